package engine

import "strings"

// DefaultSystemPrompt is the instruction sent with every model call.
const DefaultSystemPrompt = `You are a helpful assistant with memory that provides information about the user.
If you have memory for this user, use it to personalize your responses.
Here is the memory (it may be empty): {{memory}}`

const memoryMarker = "{{memory}}"

// SystemPrompt fills the memory marker of prompt. A prompt without the marker
// gets the memory appended when there is any.
func SystemPrompt(prompt, memory string) string {
	if strings.Contains(prompt, memoryMarker) {
		return strings.Replace(prompt, memoryMarker, memory, 1)
	}
	if memory == "" {
		return prompt
	}
	return prompt + "\n\n" + memory
}
