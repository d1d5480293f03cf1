package storyboard

import (
	"encoding/json"
	"fmt"
	"strings"

	"slate/internal/projects"
)

const boardSystemPrompt = `You are a storyboard artist breaking a story into filmable shots.
Respond with JSON only, using this shape:
{"shots":[{"title":"...","description":"...","prompt":"...","transition":"cut|fade|dissolve"}],
 "characters":[{"name":"...","description":"..."}],
 "locations":[{"name":"...","interior":true}]}
Each shot prompt must be a self-contained visual description suitable for an
image generation model: subject, framing, lighting, mood. Keep character and
location appearances consistent across shots. Aim for 8 to 16 shots.`

const redoSystemPrompt = `You are a storyboard artist revising a single shot.
Respond with JSON only: {"prompt":"...","transition":"cut|fade|dissolve"}.
The new prompt must be a self-contained visual description and must preserve
the characters and setting of the original shot.`

const microSystemPrompt = `You are a storyboard artist splitting one shot into short consecutive sub-clips.
Respond with JSON only: {"prompts":["...","..."]}.
Each prompt describes 2-3 seconds of motion continuing from the previous one.
Keep subjects and setting identical across all prompts.`

func boardUserPrompt(project *projects.Project, parametersJSON string) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Title: %s\n", project.Title)
	if synopsis := strings.TrimSpace(project.Synopsis); synopsis != "" {
		fmt.Fprintf(&builder, "Synopsis: %s\n", synopsis)
	}
	if style := strings.TrimSpace(project.Style); style != "" {
		fmt.Fprintf(&builder, "Visual style: %s\n", style)
	}
	appendDirectives(&builder, parametersJSON)
	return builder.String()
}

func redoUserPrompt(shot *projects.Shot, parametersJSON string) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Original shot %d: %s\n", shot.Idx, shot.Title)
	if desc := strings.TrimSpace(shot.Description); desc != "" {
		fmt.Fprintf(&builder, "Description: %s\n", desc)
	}
	fmt.Fprintf(&builder, "Original prompt: %s\n", shot.Prompt)
	appendDirectives(&builder, parametersJSON)
	return builder.String()
}

func microUserPrompt(shot *projects.Shot, parametersJSON string) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Shot to split: %s\n", shot.Title)
	fmt.Fprintf(&builder, "Prompt: %s\n", shot.Prompt)
	appendDirectives(&builder, parametersJSON)
	return builder.String()
}

// appendDirectives folds optional task parameters into the prompt. Supported
// keys: "instructions" (freeform guidance) and "count" (requested item count).
func appendDirectives(builder *strings.Builder, parametersJSON string) {
	parametersJSON = strings.TrimSpace(parametersJSON)
	if parametersJSON == "" {
		return
	}
	var params struct {
		Instructions string `json:"instructions"`
		Count        int    `json:"count"`
	}
	if err := json.Unmarshal([]byte(parametersJSON), &params); err != nil {
		return
	}
	if instructions := strings.TrimSpace(params.Instructions); instructions != "" {
		fmt.Fprintf(builder, "Additional instructions: %s\n", instructions)
	}
	if params.Count > 0 {
		fmt.Fprintf(builder, "Produce exactly %d items.\n", params.Count)
	}
}
