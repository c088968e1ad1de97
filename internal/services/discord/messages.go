package discord

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ternarybob/pictor/internal/models"
)

// Embed accent colors
const (
	ColorResult  = 0x57F287
	ColorInfo    = 0x5865F2
	ColorWarning = 0xED4245
)

// Result button actions. Custom ids carry "result:<action>:<job id>";
// the handlers parse them back with ParseResultAction.
const (
	ResultActionShare         = "share"
	ResultActionReroll        = "reroll"
	ResultActionEdit          = "edit"
	ResultActionUpscale       = "upscale"
	ResultActionDelete        = "delete"
	ResultActionDeleteUpscale = "udelete"
)

const resultPrefix = "result:"

// ResultCustomID builds the custom id for a result button
func ResultCustomID(action, jobID string) string {
	return resultPrefix + action + ":" + jobID
}

// ParseResultAction splits a result button custom id into its action
// and job id
func ParseResultAction(customID string) (action string, jobID string, ok bool) {
	rest, found := strings.CutPrefix(customID, resultPrefix)
	if !found {
		return "", "", false
	}
	action, jobID, found = strings.Cut(rest, ":")
	if !found || action == "" || jobID == "" {
		return "", "", false
	}
	return action, jobID, true
}

// Mention renders a user mention for message content
func Mention(userID string) string {
	return "<@" + userID + ">"
}

// Prompt reveal limits for the Share prompt action
const (
	promptRevealLimit   = 1000
	negativeRevealLimit = 500
)

// ResultEmbed builds the completion embed for a render. With
// revealPrompts the positive and negative prompts are appended as
// fields; otherwise a footer notes they are hidden.
func ResultEmbed(job *models.Job, attachment string, revealPrompts bool) models.Embed {
	embed := models.Embed{
		Title: "Render complete",
		Color: ColorResult,
		Fields: []models.EmbedField{
			{Name: "Model", Value: job.Model, Inline: true},
			{Name: "Sampler", Value: job.Sampler, Inline: true},
			{Name: "Scheduler", Value: job.Scheduler, Inline: true},
			{Name: "Steps", Value: strconv.Itoa(job.Steps), Inline: true},
			{Name: "CFG", Value: formatCFG(job.CFG), Inline: true},
			{Name: "Seed", Value: strconv.FormatInt(job.Seed, 10), Inline: true},
			{Name: "Size", Value: string(job.Size), Inline: true},
		},
	}
	if line := adapterLine(job.Adapters); line != "" {
		embed.Fields = append(embed.Fields, models.EmbedField{Name: "Adapters", Value: line})
	}
	if revealPrompts {
		embed.Fields = append(embed.Fields, models.EmbedField{Name: "Prompt", Value: clip(job.PositivePrompt, promptRevealLimit)})
		if job.NegativePrompt != "" {
			embed.Fields = append(embed.Fields, models.EmbedField{Name: "Negative prompt", Value: clip(job.NegativePrompt, negativeRevealLimit)})
		}
	} else {
		embed.Footer = &models.EmbedFooter{Text: "Prompt hidden. Use Share prompt to reveal it."}
	}
	if attachment != "" {
		embed.Image = &models.EmbedImage{URL: "attachment://" + attachment}
	}
	return embed
}

// ResultComponents builds the action row attached to a render result
func ResultComponents(jobID string, upscaleEnabled bool) []models.ActionRow {
	buttons := []models.Component{
		{Type: models.ComponentTypeButton, Style: models.ButtonStyleSecondary, Label: "Share prompt", CustomID: ResultCustomID(ResultActionShare, jobID)},
		{Type: models.ComponentTypeButton, Style: models.ButtonStylePrimary, Label: "Re-roll", CustomID: ResultCustomID(ResultActionReroll, jobID)},
		{Type: models.ComponentTypeButton, Style: models.ButtonStyleSecondary, Label: "Edit", CustomID: ResultCustomID(ResultActionEdit, jobID)},
	}
	if upscaleEnabled {
		buttons = append(buttons, models.Component{
			Type: models.ComponentTypeButton, Style: models.ButtonStyleSuccess, Label: "Upscale", CustomID: ResultCustomID(ResultActionUpscale, jobID),
		})
	}
	buttons = append(buttons, models.Component{
		Type: models.ComponentTypeButton, Style: models.ButtonStyleDanger, Label: "Delete", CustomID: ResultCustomID(ResultActionDelete, jobID),
	})
	return []models.ActionRow{{Type: models.ComponentTypeActionRow, Components: buttons}}
}

// renderResultMessage builds the public completion post for a render
func renderResultMessage(job *models.Job, images []models.FileAttachment, upscaleEnabled bool) *models.MessagePayload {
	attachment := ""
	if len(images) > 0 {
		attachment = images[0].Name
	}
	return &models.MessagePayload{
		Content:    Mention(job.RequesterID),
		Embeds:     []models.Embed{ResultEmbed(job, attachment, false)},
		Components: ResultComponents(job.ID, upscaleEnabled),
	}
}

// upscaleResultMessage builds the trimmed completion post for an
// upscale
func upscaleResultMessage(job *models.UpscaleJob, images []models.FileAttachment) *models.MessagePayload {
	embed := models.Embed{
		Title: "Upscale complete",
		Color: ColorResult,
		Fields: []models.EmbedField{
			{Name: "Upscale model", Value: job.UpscaleModel, Inline: true},
			{Name: "Workflow", Value: string(job.Workflow), Inline: true},
		},
	}
	if len(images) > 0 {
		embed.Image = &models.EmbedImage{URL: "attachment://" + images[0].Name}
	}

	return &models.MessagePayload{
		Content: Mention(job.RequesterID),
		Embeds:  []models.Embed{embed},
		Components: []models.ActionRow{{
			Type: models.ComponentTypeActionRow,
			Components: []models.Component{
				{Type: models.ComponentTypeButton, Style: models.ButtonStyleDanger, Label: "Delete", CustomID: ResultCustomID(ResultActionDeleteUpscale, job.ID)},
			},
		}},
	}
}

// failureMessage builds the public failure notice
func failureMessage(requesterID, message string) *models.MessagePayload {
	return &models.MessagePayload{
		Content: Mention(requesterID),
		Embeds: []models.Embed{{
			Title:       "Job failed",
			Description: message,
			Color:       ColorWarning,
		}},
	}
}

// adapterLine summarises adapter slots as "name (strength)" entries
func adapterLine(adapters []models.AdapterSlot) string {
	if len(adapters) == 0 {
		return ""
	}
	parts := make([]string, 0, len(adapters))
	for _, slot := range adapters {
		parts = append(parts, fmt.Sprintf("%s (%.2g)", slot.Name, slot.Strength))
	}
	return strings.Join(parts, ", ")
}

func formatCFG(cfg float64) string {
	return strconv.FormatFloat(cfg, 'g', -1, 64)
}

// clip truncates s to max runes with an ellipsis marker
func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
