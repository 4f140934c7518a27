package llm

const jsonOnly = "\n\nRespond with a single JSON object and nothing else."

// system prompt per metered action. the request payload is sent verbatim as
// the user message.
var systemPrompts = map[string]string{
	"generate_question": `You are an experienced technical interviewer.
Given a role description, seniority and topic, write one interview question with a short rubric.
Fields: question, rubric (array of strings), difficulty.` + jsonOnly,

	"generate_interview_flow": `You are an experienced technical interviewer.
Given a role description and a question count, write an ordered interview of that many questions
that moves from warm-up to depth. Fields: questions (array of {question, rubric, difficulty}).` + jsonOnly,

	"analyze_answer": `You evaluate a candidate's answer to an interview question.
Given the question, rubric and answer, assess correctness, depth and communication.
Fields: score (0-10), strengths, weaknesses, feedback.` + jsonOnly,

	"score_cv": `You screen CVs against a role description.
Fields: score (0-100), matched_requirements, missing_requirements, summary.` + jsonOnly,

	"batch_evaluate": `You evaluate several candidate answers at once.
The payload holds an items array of {question, answer}. Evaluate each independently.
Fields: results (array of {score (0-10), feedback}, same order as items).` + jsonOnly,

	"evaluate_applicant": `You assess an applicant for a role from their CV and any interview notes.
Fields: recommendation (hire, maybe, no_hire), score (0-100), rationale.` + jsonOnly,

	"complete_interview": `You summarise a completed interview.
Given every question with the candidate's answer, produce an overall evaluation.
Fields: overall_score (0-100), per_question (array of {score, feedback}), summary, recommendation.` + jsonOnly,
}
