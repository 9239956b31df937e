// Package receipt signs and verifies pipeline receipts. A receipt binds a
// response to the planner and builder decisions that produced it; any
// mutation after signing must be detectable by an external verifier holding
// only the public key.
package receipt

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/telemetry"
)

// hashLen is the number of lower-hex characters kept from the SHA-256.
const hashLen = 8

// Signer holds the process-scoped keypair. The private key never leaves
// the struct; external verifiers use PublicKey.
type Signer struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
	now  func() time.Time
}

// NewSigner generates a fresh keypair. One signer lives for the whole
// process; receipts from earlier runs cannot be verified after restart.
func NewSigner() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate receipt keypair: %w", err)
	}
	return &Signer{pub: pub, priv: priv, now: time.Now}, nil
}

// PublicKey returns the verifying key. The slice is a copy.
func (s *Signer) PublicKey() ed25519.PublicKey {
	out := make(ed25519.PublicKey, len(s.pub))
	copy(out, s.pub)
	return out
}

// Issue builds and signs a receipt for a completed run. The planner hash
// preserves the planner's ordering; the builder hash is over the sorted
// deduplicated set.
func (s *Signer) Issue(suggested []core.TechniqueID, used []core.TechniqueID, runnerModel, traceID string) *core.Receipt {
	r := &core.Receipt{
		FlowVersion: core.FlowVersion,
		PlannerHash: HashOrdered(suggested),
		BuilderHash: HashOrdered(core.DedupTechniques(used)),
		RunnerModel: runnerModel,
		Timestamp:   core.UTCTimestamp(s.now()),
	}
	r.Signature = base64.StdEncoding.EncodeToString(
		ed25519.Sign(s.priv, CanonicalBytes(r, traceID)))
	return r
}

// Verify checks a receipt against the trace it claims to attest. Any
// altered field, a foreign trace ID, or a wrong flow version fails.
func Verify(pub ed25519.PublicKey, r *core.Receipt, traceID string) bool {
	if r == nil || r.FlowVersion != core.FlowVersion {
		telemetry.Counter(telemetry.MetricReceiptInvalid)
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(r.Signature)
	if err != nil || !ed25519.Verify(pub, CanonicalBytes(r, traceID), sig) {
		telemetry.Counter(telemetry.MetricReceiptInvalid)
		return false
	}
	return true
}

// HashOrdered returns the 8-lower-hex SHA-256 prefix over the techniques
// joined by commas in the given order.
func HashOrdered(ids []core.TechniqueID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:])[:hashLen]
}

// CanonicalBytes renders the signing input: JSON with sorted keys and no
// whitespace over the receipt fields plus the trace ID. The serialization
// is built by hand so the byte string is stable across implementations.
func CanonicalBytes(r *core.Receipt, traceID string) []byte {
	fields := map[string]string{
		"flow_version": r.FlowVersion,
		"planner_hash": r.PlannerHash,
		"builder_hash": r.BuilderHash,
		"runner_model": r.RunnerModel,
		"timestamp":    r.Timestamp,
		"trace_id":     traceID,
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(quote(k))
		b.WriteByte(':')
		b.WriteString(quote(fields[k]))
	}
	b.WriteByte('}')
	return []byte(b.String())
}

// quote JSON-escapes a string value. Receipt fields are plain ASCII in
// practice, but escaping keeps the canonical form total.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				b.WriteString(fmt.Sprintf(`\u%04x`, r))
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}
