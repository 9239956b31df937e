package technique

import (
	"fmt"
	"strings"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
)

// flavorFunc renders one draft of the base prompt.
type flavorFunc func(base string, c *core.Classification, examples []string) Draft

// promptTechnique is the shared implementation behind every catalog entry.
// The closed technique set makes a tagged table preferable to a type
// hierarchy.
type promptTechnique struct {
	name      core.TechniqueID
	bestFor   []core.TaskType
	retrieval bool
	flavors   []flavorFunc
}

func (t *promptTechnique) Name() core.TechniqueID   { return t.name }
func (t *promptTechnique) BestFor() []core.TaskType { return t.bestFor }
func (t *promptTechnique) NeedsRetrieval() bool     { return t.retrieval }

func (t *promptTechnique) Generate(base string, c *core.Classification, examples []string) []Draft {
	out := make([]Draft, 0, len(t.flavors))
	for _, f := range t.flavors {
		out = append(out, f(base, c, examples))
	}
	return out
}

func register(t *promptTechnique) {
	Register(t.name, func() Technique { return t })
}

func draft(temp float64, prompt string) Draft {
	return Draft{Prompt: prompt, Temperature: temp}
}

// exampleBlock renders retrieved or client-supplied examples, falling back
// to a canned arithmetic walkthrough so few-shot flavors never degrade to
// zero-shot silently.
func exampleBlock(examples []string) string {
	if len(examples) == 0 {
		return "Example:\nQ: A shirt costs $15 and is discounted 20%. What is the price?\n" +
			"A: The discount is 15 * 0.20 = $3. The price is 15 - 3 = $12.\n"
	}
	var b strings.Builder
	for i, ex := range examples {
		fmt.Fprintf(&b, "Example %d:\n%s\n", i+1, ex)
	}
	return b.String()
}

func init() {
	register(&promptTechnique{
		name: core.TechniqueChainOfThought,
		bestFor: []core.TaskType{
			core.TaskMathReasoning, core.TaskCodeGeneration, core.TaskDataAnalysis,
			core.TaskGeneralQA, core.TaskGeneral,
		},
		flavors: []flavorFunc{
			func(base string, _ *core.Classification, _ []string) Draft {
				return draft(0.7, base+"\n\nLet's think step by step.")
			},
			func(base string, _ *core.Classification, _ []string) Draft {
				return draft(0.3, "Work through the following carefully. Number each reasoning "+
					"step, state what is known, what is asked, and what follows.\n\n"+base)
			},
			func(base string, _ *core.Classification, _ []string) Draft {
				return draft(0.5, base+"\n\nReason step by step, then give your final answer on "+
					"a new line prefixed with \"Answer:\".")
			},
		},
	})

	register(&promptTechnique{
		name: core.TechniqueFewShotCoT,
		bestFor: []core.TaskType{
			core.TaskMathReasoning, core.TaskClassification, core.TaskTranslation,
		},
		flavors: []flavorFunc{
			func(base string, _ *core.Classification, examples []string) Draft {
				return draft(0.5, exampleBlock(examples)+"\nNow solve, showing your reasoning "+
					"the same way:\n"+base)
			},
			func(base string, _ *core.Classification, examples []string) Draft {
				return draft(0.3, "Study the worked examples, then answer the new question with "+
					"the same step-by-step style.\n\n"+exampleBlock(examples)+"\nQuestion:\n"+base)
			},
		},
	})

	register(&promptTechnique{
		name: core.TechniqueSelfConsistency,
		bestFor: []core.TaskType{
			core.TaskMathReasoning, core.TaskGeneralQA, core.TaskClassification,
		},
		flavors: []flavorFunc{
			func(base string, _ *core.Classification, _ []string) Draft {
				return draft(1.0, base+"\n\nSolve this three times using independent lines of "+
					"reasoning, then report the answer the majority of attempts agree on.")
			},
			func(base string, _ *core.Classification, _ []string) Draft {
				return draft(0.9, "Generate several distinct reasoning paths for the problem "+
					"below. Compare their conclusions and keep the most consistent one.\n\n"+base)
			},
		},
	})

	register(&promptTechnique{
		name:    core.TechniqueReAct,
		bestFor: []core.TaskType{core.TaskCodeGeneration, core.TaskDataAnalysis},
		flavors: []flavorFunc{
			func(base string, _ *core.Classification, _ []string) Draft {
				return draft(0.4, base+"\n\nProceed in interleaved Thought / Action / Observation "+
					"steps. State each thought, the action it implies, and what you observe, "+
					"until you can give a final answer.")
			},
			func(base string, _ *core.Classification, _ []string) Draft {
				return draft(0.4, "Task:\n"+base+"\n\nFormat:\nThought: <reasoning>\n"+
					"Action: <what to do>\nObservation: <result>\n(repeat)\nFinal Answer: <answer>")
			},
		},
	})

	register(&promptTechnique{
		name:    core.TechniqueTreeOfThought,
		bestFor: []core.TaskType{core.TaskCreativeWriting, core.TaskGeneralQA},
		flavors: []flavorFunc{
			func(base string, _ *core.Classification, _ []string) Draft {
				return draft(0.9, base+"\n\nExplore three distinct approaches. For each, sketch "+
					"the idea and its main weakness, then develop the most promising one fully.")
			},
			func(base string, _ *core.Classification, _ []string) Draft {
				return draft(0.8, "Treat the problem below as a tree of possibilities. Branch on "+
					"the key decisions, evaluate each branch briefly, prune the weak ones, and "+
					"present the best path with its reasoning.\n\n"+base)
			},
			func(base string, _ *core.Classification, _ []string) Draft {
				return draft(0.9, base+"\n\nStep 1: list candidate strategies.\nStep 2: score "+
					"each for feasibility and quality.\nStep 3: expand the winner into a "+
					"complete answer.")
			},
		},
	})

	register(&promptTechnique{
		name:      core.TechniqueIRCoT,
		retrieval: true,
		bestFor: []core.TaskType{
			core.TaskDataAnalysis, core.TaskSummarization, core.TaskGeneralQA,
		},
		flavors: []flavorFunc{
			func(base string, _ *core.Classification, examples []string) Draft {
				return draft(0.5, "Context:\n"+exampleBlock(examples)+"\nUsing the context above, "+
					"reason step by step and cite which context item supports each step.\n\n"+base)
			},
			func(base string, _ *core.Classification, examples []string) Draft {
				return draft(0.4, "Alternate between reading the context and reasoning: after "+
					"each reasoning step, check the context for support before continuing.\n\n"+
					"Context:\n"+exampleBlock(examples)+"\nQuestion:\n"+base)
			},
		},
	})

	register(&promptTechnique{
		name:    core.TechniqueDSPyAPE,
		bestFor: []core.TaskType{core.TaskSummarization, core.TaskGeneralQA},
		flavors: []flavorFunc{
			func(base string, _ *core.Classification, _ []string) Draft {
				return draft(0.6, "You are an expert instruction writer. First rewrite the task "+
					"below as the clearest possible instruction, then carry it out.\n\nTask:\n"+base)
			},
			func(base string, _ *core.Classification, _ []string) Draft {
				return draft(0.5, "Instruction: produce the most accurate and complete response "+
					"to the request below. Be precise, structured, and omit filler.\n\n"+base)
			},
		},
	})

	register(&promptTechnique{
		name:    core.TechniqueDSPyGRIPS,
		bestFor: []core.TaskType{core.TaskGeneralQA, core.TaskClassification},
		flavors: []flavorFunc{
			func(base string, _ *core.Classification, _ []string) Draft {
				return draft(0.5, "Answer the request below. Before answering, silently edit the "+
					"request into its tightest phrasing: delete redundant words, split compound "+
					"asks, and resolve ambiguity in favor of the most common reading.\n\n"+base)
			},
		},
	})

	register(&promptTechnique{
		name:    core.TechniqueAutoDiCoT,
		bestFor: []core.TaskType{core.TaskClassification, core.TaskGeneralQA},
		flavors: []flavorFunc{
			func(base string, c *core.Classification, _ []string) Draft {
				depth := "brief"
				if c != nil && c.Complexity > 0.6 {
					depth = "thorough"
				}
				return draft(0.5, fmt.Sprintf("Assess how difficult the task below is, then give "+
					"a %s chain of reasoning proportional to that difficulty before answering.\n\n%s",
					depth, base))
			},
			func(base string, _ *core.Classification, _ []string) Draft {
				return draft(0.4, base+"\n\nFirst state whether this is easy, moderate, or hard "+
					"and why. Then reason accordingly and answer.")
			},
		},
	})

	register(&promptTechnique{
		name:    core.TechniqueUniversalSelfPrompt,
		bestFor: []core.TaskType{core.TaskCreativeWriting, core.TaskGeneral},
		flavors: []flavorFunc{
			func(base string, _ *core.Classification, _ []string) Draft {
				return draft(0.8, "Before responding, write the ideal system prompt an expert "+
					"assistant would need for this task, then respond as that assistant.\n\n"+base)
			},
			func(base string, _ *core.Classification, _ []string) Draft {
				return draft(0.7, base+"\n\nAdopt the persona best qualified for this request, "+
					"name it in one line, then answer in that persona's voice.")
			},
		},
	})
}
