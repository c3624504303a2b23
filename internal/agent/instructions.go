package agent

import (
	"fmt"
	"strings"
	"time"
)

const defaultPersona = "You are a business operations assistant for a single tenant. " +
	"You answer questions about the tenant's business data, keep their records up to date, " +
	"manage their calendar and produce documents on request. Be concise and accurate, and " +
	"never invent data that a tool did not return."

// InstructionConfig holds the inputs to BuildInstructions.
type InstructionConfig struct {
	Persona  string
	Location *time.Location
	Locale   string

	// Sectors are the business data sectors the data tools accept.
	Sectors []string

	// Now is the clock; nil uses time.Now.
	Now func() time.Time
}

// DefaultInstructionConfig uses UTC and en-US.
func DefaultInstructionConfig() InstructionConfig {
	return InstructionConfig{
		Persona:  defaultPersona,
		Location: time.UTC,
		Locale:   "en-US",
	}
}

// BuildInstructions assembles the system prompt for one run. The remote tool
// protocol section is only included when remoteTools is non-empty.
func BuildInstructions(cfg InstructionConfig, remoteTools []string) string {
	persona := strings.TrimSpace(cfg.Persona)
	if persona == "" {
		persona = defaultPersona
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}
	current := now().In(loc)
	locale := cfg.Locale
	if locale == "" {
		locale = "en-US"
	}

	sections := []string{
		persona,
		fmt.Sprintf("Current date and time: %s (%s, locale %s). Resolve relative dates such as \"today\" or \"next week\" against this value.",
			current.Format("Monday, 2 January 2006 15:04"), loc.String(), locale),
	}

	if len(cfg.Sectors) > 0 {
		sections = append(sections, "Business data is organised into these sectors: "+
			strings.Join(cfg.Sectors, ", ")+
			". Always pass one of them as the sector argument of the business data tools. "+
			"Use query_business_data before answering questions about records, and use "+
			"mutate_business_data with 1-based row indexes taken from a fresh query when "+
			"adding, updating or deleting rows.")
	}

	if len(remoteTools) > 0 {
		var b strings.Builder
		b.WriteString("Some tools are hosted by a remote tool server: ")
		b.WriteString(strings.Join(remoteTools, ", "))
		b.WriteString(".\nBefore calling any of them you MUST:\n")
		b.WriteString("1. Call get_context to obtain tenantId.\n")
		b.WriteString("2. Call get_encrypted_token to obtain encryptedToken {enc, iv, tag}.\n")
		b.WriteString("3. Pass tenantId and encryptedToken exactly as returned as arguments of the remote tool call.\n")
		b.WriteString("Never ask the user for credentials and never try to pass a raw token. ")
		b.WriteString("If get_encrypted_token reports hasAppAuthToken false, tell the user the operation needs an authenticated session.")
		sections = append(sections, b.String())
	}

	sections = append(sections, envelopeContract)
	return strings.Join(sections, "\n\n")
}

const envelopeContract = "RESPONSE FORMAT (mandatory): write your answer for the user, then end every " +
	"response with a fenced JSON block and nothing after it:\n" +
	"```json\n" +
	"{\n" +
	"  \"sources\": [{\"title\": \"...\", \"url\": \"...\", \"favicon\": \"...\"}],\n" +
	"  \"asset\": {\"name\": \"...\", \"symbol\": \"...\", \"price\": 0, \"change_pct\": 0},\n" +
	"  \"answer\": \"...\"\n" +
	"}\n" +
	"```\n" +
	"\"answer\" repeats your answer as plain text. \"sources\" lists what you relied on and may be " +
	"an empty array; \"favicon\" is optional. Omit \"asset\" unless the answer is about a single " +
	"financial asset. The block must be valid JSON."
