package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/pulsebot/internal/memory"
	"github.com/haasonsaas/pulsebot/internal/skills"
)

const systemPromptTemplate = `You are {agent_name}, a helpful AI assistant powered by PulseBot.

## Core Identity
{custom_identity}

## Current Context
- Current time: {current_time}
- User: {user_name}
- Session: {session_id}
- Channel: {channel_name}
{model_info_section}

## Available Tools
You have access to the following tools:
{tools_list}
{skills_index_section}

## Relevant Memories
{memories}

## Guidelines

### Tool Usage
- Use tools proactively when they can help answer questions or complete tasks
- Always explain what you're doing before calling a tool
- If a tool fails, explain the error and try an alternative approach
- Chain multiple tools when needed to complete complex tasks

### Communication Style
- Be concise but thorough
- Use markdown formatting when helpful
- Ask clarifying questions if the request is ambiguous
- Confirm before taking irreversible actions (file deletion, sending messages, etc.)

### Memory
- I will remember important facts, preferences, and context from our conversations
- You can ask me to remember or forget specific things
- I proactively use relevant memories to personalize responses

### Limitations
- I cannot access the internet in real-time without the web_search tool
- I cannot execute code unless the shell tool is enabled
- I respect user privacy and will not share session information

{custom_instructions}`

// promptParams carries everything the system prompt template needs.
type promptParams struct {
	AgentName          string
	CustomIdentity     string
	CustomInstructions string
	ModelInfo          string
	SkillsIndex        string
	UserName           string
	SessionID          string
	ChannelName        string
	Tools              []skills.ToolDefinition
	Memories           []memory.Record
}

// buildSystemPrompt renders the full system prompt for one turn.
func buildSystemPrompt(p promptParams) string {
	if p.AgentName == "" {
		p.AgentName = "PulseBot"
	}
	if p.CustomIdentity == "" {
		p.CustomIdentity = "I am a helpful, friendly AI assistant."
	}
	if p.UserName == "" {
		p.UserName = "User"
	}
	if p.ChannelName == "" {
		p.ChannelName = "webchat"
	}

	sessionID := "new"
	if p.SessionID != "" {
		sessionID = p.SessionID
		if len(sessionID) > 8 {
			sessionID = sessionID[:8]
		}
	}

	toolsList := "No tools are currently available."
	if len(p.Tools) > 0 {
		lines := make([]string, len(p.Tools))
		for i, tool := range p.Tools {
			lines[i] = fmt.Sprintf("- **%s**: %s", tool.Name, tool.Description)
		}
		toolsList = strings.Join(lines, "\n")
	}

	memories := "No relevant memories found."
	if len(p.Memories) > 0 {
		lines := make([]string, len(p.Memories))
		for i, rec := range p.Memories {
			memType := rec.MemoryType
			if memType == "" {
				memType = "fact"
			}
			lines[i] = fmt.Sprintf("- [%s] %s", memType, rec.Content)
		}
		memories = strings.Join(lines, "\n")
	}

	modelSection := ""
	if p.ModelInfo != "" {
		modelSection = "\n## Model Configuration\n" + p.ModelInfo
	}
	skillsSection := ""
	if p.SkillsIndex != "" {
		skillsSection = "\n" + p.SkillsIndex
	}

	return strings.TrimSpace(strings.NewReplacer(
		"{agent_name}", p.AgentName,
		"{custom_identity}", p.CustomIdentity,
		"{current_time}", time.Now().UTC().Format(time.RFC3339),
		"{user_name}", p.UserName,
		"{session_id}", sessionID,
		"{channel_name}", p.ChannelName,
		"{model_info_section}", modelSection,
		"{tools_list}", toolsList,
		"{skills_index_section}", skillsSection,
		"{memories}", memories,
		"{custom_instructions}", p.CustomInstructions,
	).Replace(systemPromptTemplate))
}

const memoryExtractionPrompt = `Review this conversation and extract any important facts, preferences,
or information worth remembering about the user.

CRITICAL: Return ONLY a valid JSON array in this exact format:
[{"type": "fact|preference|reminder", "content": "...", "importance": 0.0-1.0}]

If nothing is worth remembering, return an empty array: []

Examples of good extractions:
- [{"type": "fact", "content": "User's name is John Smith", "importance": 0.9}]
- [{"type": "preference", "content": "User prefers Python over Java", "importance": 0.7}]
- [{"type": "fact", "content": "User works at Acme Corp as Data Scientist", "importance": 0.8}]
- []

Be selective - only extract genuinely useful information like:
- User personal information (name, contact details, role, company)
- User preferences (communication style, interests, settings, favorite tools)
- Important facts (projects they're working on, technical expertise)
- Scheduled reminders or commitments
- Learned information that could help future interactions

Do NOT extract:
- Generic pleasantries or greetings
- Transient information
- Information already known/obvious
- Questions the user asked (unless they reveal preferences)

IMPORTANT: Respond with ONLY the JSON array. No other text, no explanations, no markdown formatting.`

const extractionSystemPrompt = "You are a memory extraction assistant. Be concise. Return only valid JSON."
