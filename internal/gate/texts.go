package gate

import "fmt"

// User-facing strings. Kept in one place so the tone stays consistent.
const (
	textNotYourChallenge = "This challenge is for someone else."
	textOnCooldown       = "Wrong answer, wait a bit before trying again."
	textChallengeGone    = "This challenge has already been resolved."
	textAnswerCorrect    = "Correct, welcome!"
	textAnswerWrong      = "That is not the right answer."

	textPromptPassed   = "Verification passed."
	textPromptFailed   = "Verification failed."
	textPromptTimedOut = "Verification timed out."
)

func promptText(name, question string) string {
	return fmt.Sprintf("%s, prove you're human:\n\n%s", name, question)
}
