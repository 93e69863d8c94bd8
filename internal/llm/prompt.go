package llm

// Default prompts for the two pipeline steps. Step 1 asks for a literal
// reading of the specimen label; step 2 turns that reading into Darwin
// Core terms. Both are overridable per run.
const (
	DefaultTranscriptionPrompt = "You are an experienced biologist specializing in describing herbarium specimens. " +
		"You have a keen eye for detail and can describe specimens very accurately. " +
		"Your task is to extract all information from the provided image of a herbarium specimen " +
		"and create a short description containing all information from the image. " +
		"Do not provide information on higher taxonomy beyond kingdom. " +
		"Perform a literal transcription of all text visible on the specimen's label. " +
		"The text on the label is handwritten."

	DefaultStandardizationPrompt = "Standardize the provided information about a preserved specimen into a JSON object " +
		"using exclusively valid Darwin Core terms. The JSON structure should follow: " +
		`{ "dwc:scientificName": "Value", "dwc:locality": "Value", ... }.`
)
