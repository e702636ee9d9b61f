package extraction

import (
	"fmt"
	"strings"

	"github.com/aschepis/backscratcher/lifebook/story"
)

const ingestSchema = `Return one JSON object:
{
  "biographerResponse": string, // reply to the user, pivoting back to their own story
  "topic": string,
  "memories": [{
    "narrative": string,        // from the user's perspective
    "sortDate": string,         // YYYY or YYYY-MM-DD, "0000" if unknown
    "location": string,
    "type": "EVENT" | "INTANGIBLE",
    "sentiment": "positive" | "neutral" | "high-stakes" | "nostalgic",
    "aiInsight": string,
    "historicalContext": string,
    "suggestedEraCategories": ["personal" | "professional" | "location"],
    "suggestedEventAnchor": string,
    "associatedEntities": [{"name": string, "type": string, "relationship": string, "details": string}]
  }],
  "entities": [{
    "name": string,             // normalize places, e.g. CDMX -> Mexico City
    "type": "PERSON" | "PLACE" | "OBJECT" | "DREAM" | "VISION" | "SKILL" | "PASSION" | "LIKE" | "THOUGHT" | "IDENTITY",
    "relationship": string,
    "details": string,
    "metadata": {"birthDate": string, "deathDate": string, "birthPlace": string, "notes": string}
  }],
  "sources": [{"title": string, "uri": string}]
}`

const mediaSchema = `Return one JSON object:
{
  "suggestedYear": string,        // YYYY if it can be estimated
  "suggestedLocation": string,
  "narrative": string,            // one sentence from the user's perspective
  "analysis": string,             // what the artifact shows
  "suggestedEventAnchor": string,
  "biographerCuriosity": string   // one question for the user about it
}`

func firstName(userName string) string {
	if fields := strings.Fields(userName); len(fields) > 0 {
		return fields[0]
	}
	return "the user"
}

// ingestSystemPrompt builds the biographer instructions for one request.
func ingestSystemPrompt(req Request) string {
	name := firstName(req.UserName)
	var b strings.Builder
	fmt.Fprintf(&b, "IDENTITY: You are %s's digital friend and master biographer.\n\n", name)
	if req.Tone == story.ToneConcise {
		b.WriteString("TONE: concise. Acknowledge facts briefly and move to the next question. At most two short sentences, no elaborate empathy.\n\n")
	} else {
		b.WriteString("TONE: warm. You may be soulful and descriptive, but keep the focus on the user.\n\n")
	}
	fmt.Fprintf(&b, "USER-CENTRIC RULE: this is %s's biography. Save relatives and friends as entities but never ask about their lives; ask how they shaped the user.\n\n", name)
	if req.BirthYear > 0 {
		fmt.Fprintf(&b, "The user was born in %d. Use it to resolve relative dates such as \"when I was ten\".\n\n", req.BirthYear)
	}
	b.WriteString("VISION: analyze attached images and focus on what the user was doing there.\n\n")
	b.WriteString(ingestSchema)
	return b.String()
}

func ingestUserPrompt(req Request) string {
	return fmt.Sprintf("User: %q\n\nExisting Knowledge:\n%s", req.Input, req.FactsContext)
}

func mediaSystemPrompt(req MediaRequest) string {
	var b strings.Builder
	b.WriteString("You help a biographer date and describe personal artifacts such as photos, letters and recordings.\n")
	if req.BirthYear > 0 {
		fmt.Fprintf(&b, "The owner was born in %d.\n", req.BirthYear)
	}
	b.WriteString("\n")
	b.WriteString(mediaSchema)
	return b.String()
}

func mediaUserPrompt(req MediaRequest) string {
	return fmt.Sprintf("Known facts: %s\n\nAnalyze the attached %s artifact.", req.FactsContext, story.AttachmentKindFor(req.MimeType))
}
