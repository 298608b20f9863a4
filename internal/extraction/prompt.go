package extraction

const systemPrompt = `You extract key concepts from study conversations and the passages a reader highlighted.

Identify the ideas the reader is learning about:
- Prefer specific technical terms and definitions that are discussed or explained, not broad topics.
- Write a short, self-contained description of each concept.
- Set confidence_score between 0 and 1 according to how well the source material explains the concept.
- List in related_concepts the names of other concepts discussed alongside it.
- Use a few short lowercase tags.

Respond with a single JSON object of the form:
{"concepts":[{"name":"...","description":"...","tags":["..."],"confidence_score":0.8,"related_concepts":["..."]}]}
Return only the JSON object.`

func userPrompt(transcript string) string {
	return "Extract the key concepts from this conversation and its highlighted passages:\n\n" +
		transcript +
		"\n\nFocus on definitions and technical knowledge worth keeping for later review."
}
