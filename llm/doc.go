// Package llm provides a provider-neutral abstraction over the language model
// APIs the story collaborators run on.
//
// # Core Concepts
//
//  1. Messages: a Message has a role (user, assistant, system) and content
//     blocks. A block is either text or an inline image.
//
//  2. Client: the Client interface has a single Synchronous call. Provider
//     packages (anthropic, openai, ollama, gemini) translate to and from their
//     SDK types and classify failures into *Error.
//
//  3. Middleware: cross-cutting concerns such as logging and retries wrap a
//     Client without touching provider code. WithRetry retries errors marked
//     retryable with exponential backoff.
//
//  4. Registry: ProviderRegistry picks the first enabled and configured
//     provider from a preference list and returns a ClientKey describing it.
//
// Usage Example
//
//	base, _ := gemini.NewClient(ctx, apiKey, logger)
//	client := llm.WithRetry(base, llm.RetryOptions{MaxRetries: 3}, logger)
//
//	resp, err := client.Synchronous(ctx, &llm.Request{
//	    Model:      "gemini-2.5-flash",
//	    System:     prompt,
//	    Messages:   []llm.Message{llm.NewTextMessage(llm.RoleUser, "Hello!")},
//	    JSONOutput: true,
//	})
//
// # Extension Points
//
// To add a provider, implement Client, translate text and image blocks, and
// map provider failures onto the Error taxonomy (FromStatus covers HTTP
// status codes).
package llm
