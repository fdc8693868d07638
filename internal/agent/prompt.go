package agent

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/tenex/pkg/models"
)

// ProjectInfo is the static project metadata included in every system
// prompt and stamped onto outbound events.
type ProjectInfo struct {
	// Name is the human-readable project title.
	Name string

	// Address is the project's addressable coordinate (kind:pubkey:dtag).
	Address string

	// WorkingDir is where shell commands and spec files live.
	WorkingDir string
}

// Peer describes another agent available in the project, used for the
// available-agent enumeration in system prompts.
type Peer struct {
	Name        string
	Role        string
	Description string
}

// Seed carries the per-conversation inputs for system prompt assembly. It
// is passed explicitly on conversation creation rather than injected later,
// so the first message is complete the moment it is written.
type Seed struct {
	// Peers enumerates the other agents of the project.
	Peers []Peer

	// FromAgent marks conversations opened by another agent rather than a
	// human; the prompt gains the terse agent-to-agent block.
	FromAgent bool
}

// BuildSystemPrompt assembles the system message that opens every one of an
// agent's conversations.
func BuildSystemPrompt(def *models.AgentDefinition, project ProjectInfo, seed Seed) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("You are **%s**, an AI agent", def.Name))
	if project.Name != "" {
		sb.WriteString(fmt.Sprintf(" working on the %q project", project.Name))
	}
	sb.WriteString(".\n")
	sb.WriteString("You collaborate with other agents over a shared event network. ")
	sb.WriteString("Stay within your role, be concrete, and prefer doing the work over describing it.\n")

	if def.Role != "" {
		sb.WriteString("\n## Role\n\n")
		sb.WriteString(strings.TrimSpace(def.Role))
		sb.WriteString("\n")
	}
	if def.Instructions != "" {
		sb.WriteString("\n## Instructions\n\n")
		sb.WriteString(strings.TrimSpace(def.Instructions))
		sb.WriteString("\n")
	}

	if project.Name != "" || project.Address != "" {
		sb.WriteString("\n## Project\n\n")
		if project.Name != "" {
			sb.WriteString(fmt.Sprintf("- Name: %s\n", project.Name))
		}
		if project.Address != "" {
			sb.WriteString(fmt.Sprintf("- Address: `%s`\n", project.Address))
		}
	}

	if len(seed.Peers) > 0 {
		sb.WriteString("\n## Available Agents\n\n")
		for _, peer := range seed.Peers {
			role := peer.Role
			if role == "" {
				role = "agent"
			}
			sb.WriteString(fmt.Sprintf("- **%s** (%s): %s\n", peer.Name, role, peer.Description))
		}
		sb.WriteString("\nMention an agent by name when work should be handed to them.\n")
	}

	if project.WorkingDir != "" {
		sb.WriteString("\n## Environment\n\n")
		sb.WriteString(fmt.Sprintf("- Working directory: %s\n", project.WorkingDir))
	}

	if seed.FromAgent {
		sb.WriteString("\n## Agent-to-Agent Communication\n\n")
		sb.WriteString("The requester is another agent, not a human. ")
		sb.WriteString("Reply with the substantive result only: no greetings, ")
		sb.WriteString("no restating the request, no offers of further help.\n")
	}

	return sb.String()
}
