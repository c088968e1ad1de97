package handlers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ternarybob/pictor/internal/models"
	"github.com/ternarybob/pictor/internal/services/discord"
)

// Custom ids of the draft form's controls. Everything the form emits
// starts with "form:" so the router can route it in one prefix check.
const (
	formPrefix = "form:"

	formModelSelect     = "form:model"
	formSamplerSelect   = "form:sampler"
	formSchedulerSelect = "form:scheduler"
	formSizeSelect      = "form:size"
	formPromptsButton   = "form:prompts"
	formParamsButton    = "form:params"
	formAdaptersButton  = "form:adapters"
	formGenerateButton  = "form:generate"
	formBackButton      = "form:back"
	formStrengthsButton = "form:strengths"

	// Paged adapter controls carry their page number after the prefix
	formAdapterPickPrefix = "form:adapterpick:"
	formAdapterPagePrefix = "form:adapterpage:"
)

// Modal ids and their text input field ids
const (
	modalPrompts   = "modal:prompts"
	modalParams    = "modal:params"
	modalStrengths = "modal:strengths"

	fieldPositive = "field:positive"
	fieldNegative = "field:negative"
	fieldSteps    = "field:steps"
	fieldCFG      = "field:cfg"
	fieldSeed     = "field:seed"

	strengthFieldPrefix = "strength:"
)

// adapterPageSize matches the select menu's option cap
const adapterPageSize = 25

// formEmbed renders the draft's current state
func formEmbed(draft *models.Draft) models.Embed {
	embed := models.Embed{
		Title: "Render setup",
		Color: discord.ColorInfo,
		Fields: []models.EmbedField{
			{Name: "Model", Value: orUnset(draft.Model), Inline: true},
			{Name: "Sampler", Value: orUnset(draft.Sampler), Inline: true},
			{Name: "Scheduler", Value: orUnset(draft.Scheduler), Inline: true},
			{Name: "Size", Value: string(draft.Size), Inline: true},
			{Name: "Steps", Value: strconv.Itoa(draft.Steps), Inline: true},
			{Name: "CFG", Value: formatFloat(draft.CFG), Inline: true},
			{Name: "Seed", Value: seedDisplay(draft.SeedText), Inline: true},
		},
		Footer: &models.EmbedFooter{Text: "Adjust the options below, then press Generate."},
	}

	if prompt := strings.TrimSpace(draft.PositivePrompt); prompt != "" {
		embed.Fields = append(embed.Fields, models.EmbedField{Name: "Prompt", Value: truncate(prompt, 300)})
	}
	if negative := strings.TrimSpace(draft.NegativePrompt); negative != "" {
		embed.Fields = append(embed.Fields, models.EmbedField{Name: "Negative prompt", Value: truncate(negative, 200)})
	}
	if len(draft.Adapters) > 0 {
		var lines []string
		for _, slot := range draft.Adapters {
			line := fmt.Sprintf("%s (%s)", slot.Name, formatFloat(slot.Strength))
			if len(slot.TriggerWords) > 0 {
				line += " — " + truncate(strings.Join(slot.TriggerWords, ", "), 120)
			}
			lines = append(lines, line)
		}
		embed.Fields = append(embed.Fields, models.EmbedField{Name: "Adapters", Value: strings.Join(lines, "\n")})
	}

	return embed
}

// formResponse builds the main form view as an interaction response
func formResponse(responseType int, draft *models.Draft, catalog *models.Catalog) *models.InteractionResponse {
	return &models.InteractionResponse{
		Type: responseType,
		Data: &models.ResponseData{
			Embeds:     []models.Embed{formEmbed(draft)},
			Components: mainFormRows(draft, catalog),
			Flags:      models.MessageFlagEphemeral,
		},
	}
}

// adapterViewResponse builds the adapter picker view
func adapterViewResponse(responseType int, draft *models.Draft, catalog *models.Catalog, page int) *models.InteractionResponse {
	return &models.InteractionResponse{
		Type: responseType,
		Data: &models.ResponseData{
			Embeds:     []models.Embed{formEmbed(draft)},
			Components: adapterFormRows(draft, catalog, page),
			Flags:      models.MessageFlagEphemeral,
		},
	}
}

// mainFormRows lays out the option selects plus the action buttons.
// The platform caps a message at five rows, so adapters live behind a
// button that swaps the view.
func mainFormRows(draft *models.Draft, catalog *models.Catalog) []models.ActionRow {
	var rows []models.ActionRow

	if row, ok := selectRow(formModelSelect, "Model", catalog.Models, draft.Model); ok {
		rows = append(rows, row)
	}
	if row, ok := selectRow(formSamplerSelect, "Sampler", catalog.Samplers, draft.Sampler); ok {
		rows = append(rows, row)
	}
	if row, ok := selectRow(formSchedulerSelect, "Scheduler", catalog.Schedulers, draft.Scheduler); ok {
		rows = append(rows, row)
	}
	rows = append(rows, sizeRow(draft.Size))

	buttons := []models.Component{
		{Type: models.ComponentTypeButton, Style: models.ButtonStyleSecondary, Label: "Edit prompts", CustomID: formPromptsButton},
		{Type: models.ComponentTypeButton, Style: models.ButtonStyleSecondary, Label: "Parameters", CustomID: formParamsButton},
	}
	if len(catalog.Adapters) > 0 {
		buttons = append(buttons, models.Component{
			Type: models.ComponentTypeButton, Style: models.ButtonStyleSecondary, Label: "Adapters", CustomID: formAdaptersButton,
		})
	}
	buttons = append(buttons, generateButton())
	rows = append(rows, models.ActionRow{Type: models.ComponentTypeActionRow, Components: buttons})

	return rows
}

// adapterFormRows lays out one page of the adapter picker
func adapterFormRows(draft *models.Draft, catalog *models.Catalog, page int) []models.ActionRow {
	totalPages := (len(catalog.Adapters) + adapterPageSize - 1) / adapterPageSize
	if totalPages < 1 {
		totalPages = 1
	}
	if page < 0 {
		page = 0
	}
	if page >= totalPages {
		page = totalPages - 1
	}

	start := page * adapterPageSize
	end := start + adapterPageSize
	if end > len(catalog.Adapters) {
		end = len(catalog.Adapters)
	}
	pageValues := catalog.Adapters[start:end]

	selected := make(map[string]bool, len(draft.Adapters))
	for _, slot := range draft.Adapters {
		selected[slot.Name] = true
	}

	options := make([]models.SelectOption, 0, len(pageValues))
	for _, name := range pageValues {
		options = append(options, models.SelectOption{Label: name, Value: name, Default: selected[name]})
	}

	minValues := 0
	maxValues := models.MaxAdapters
	if maxValues > len(options) {
		maxValues = len(options)
	}

	rows := []models.ActionRow{{
		Type: models.ComponentTypeActionRow,
		Components: []models.Component{{
			Type:        models.ComponentTypeStringSelect,
			CustomID:    formAdapterPickPrefix + strconv.Itoa(page),
			Placeholder: fmt.Sprintf("Adapters (up to %d)", models.MaxAdapters),
			MinValues:   &minValues,
			MaxValues:   &maxValues,
			Options:     options,
		}},
	}}

	if totalPages > 1 {
		rows = append(rows, models.ActionRow{
			Type: models.ComponentTypeActionRow,
			Components: []models.Component{
				{Type: models.ComponentTypeButton, Style: models.ButtonStyleSecondary, Label: "Prev", CustomID: formAdapterPagePrefix + strconv.Itoa(page-1), Disabled: page == 0},
				{Type: models.ComponentTypeButton, Style: models.ButtonStyleSecondary, Label: fmt.Sprintf("Page %d/%d", page+1, totalPages), CustomID: formAdapterPagePrefix + "here", Disabled: true},
				{Type: models.ComponentTypeButton, Style: models.ButtonStyleSecondary, Label: "Next", CustomID: formAdapterPagePrefix + strconv.Itoa(page+1), Disabled: page == totalPages-1},
			},
		})
	}

	buttons := []models.Component{
		{Type: models.ComponentTypeButton, Style: models.ButtonStyleSecondary, Label: "Back", CustomID: formBackButton},
	}
	if len(draft.Adapters) > 0 {
		buttons = append(buttons, models.Component{
			Type: models.ComponentTypeButton, Style: models.ButtonStyleSecondary, Label: "Strengths", CustomID: formStrengthsButton,
		})
	}
	buttons = append(buttons, generateButton())
	rows = append(rows, models.ActionRow{Type: models.ComponentTypeActionRow, Components: buttons})

	return rows
}

func generateButton() models.Component {
	return models.Component{
		Type: models.ComponentTypeButton, Style: models.ButtonStyleSuccess, Label: "Generate", CustomID: formGenerateButton,
	}
}

// selectRow builds a single-choice select. Lists can be empty when the
// renderer exposes none of a kind; the row is skipped then.
func selectRow(customID, placeholder string, values []string, current string) (models.ActionRow, bool) {
	if len(values) == 0 {
		return models.ActionRow{}, false
	}
	options := make([]models.SelectOption, 0, len(values))
	for _, v := range values {
		options = append(options, models.SelectOption{Label: v, Value: v, Default: v == current})
	}
	return models.ActionRow{
		Type: models.ComponentTypeActionRow,
		Components: []models.Component{{
			Type:        models.ComponentTypeStringSelect,
			CustomID:    customID,
			Placeholder: placeholder,
			Options:     options,
		}},
	}, true
}

func sizeRow(current models.SizePreset) models.ActionRow {
	presets := []models.SizePreset{models.SizePortrait, models.SizeSquare, models.SizeLandscape}
	options := make([]models.SelectOption, 0, len(presets))
	for _, preset := range presets {
		w, h := preset.Dimensions()
		options = append(options, models.SelectOption{
			Label:       capitalize(string(preset)),
			Value:       string(preset),
			Description: fmt.Sprintf("%d x %d", w, h),
			Default:     preset == current,
		})
	}
	return models.ActionRow{
		Type: models.ComponentTypeActionRow,
		Components: []models.Component{{
			Type:        models.ComponentTypeStringSelect,
			CustomID:    formSizeSelect,
			Placeholder: "Size",
			Options:     options,
		}},
	}
}

// promptsModal builds the prompt entry modal, prefilled from the draft
func promptsModal(draft *models.Draft) *models.InteractionResponse {
	return &models.InteractionResponse{
		Type: models.ResponseTypeModal,
		Data: &models.ResponseData{
			CustomID: modalPrompts,
			Title:    "Describe your render",
			Components: []models.ActionRow{
				textInputRow(fieldPositive, "Prompt", models.TextInputStyleParagraph, draft.PositivePrompt, true, 2000),
				textInputRow(fieldNegative, "Negative prompt", models.TextInputStyleParagraph, draft.NegativePrompt, false, 1000),
			},
		},
	}
}

// paramsModal builds the numeric parameter modal
func paramsModal(draft *models.Draft) *models.InteractionResponse {
	return &models.InteractionResponse{
		Type: models.ResponseTypeModal,
		Data: &models.ResponseData{
			CustomID: modalParams,
			Title:    "Render parameters",
			Components: []models.ActionRow{
				textInputRow(fieldSteps, "Steps (1-150)", models.TextInputStyleShort, strconv.Itoa(draft.Steps), true, 3),
				textInputRow(fieldCFG, "CFG (1-30)", models.TextInputStyleShort, formatFloat(draft.CFG), true, 6),
				textInputRow(fieldSeed, "Seed (number or \"random\")", models.TextInputStyleShort, draft.SeedText, false, 20),
			},
		},
	}
}

// strengthsModal builds one strength input per active adapter slot
func strengthsModal(draft *models.Draft) *models.InteractionResponse {
	rows := make([]models.ActionRow, 0, len(draft.Adapters))
	for i, slot := range draft.Adapters {
		label := truncate("Strength: "+slot.Name, 45)
		rows = append(rows, textInputRow(strengthFieldPrefix+strconv.Itoa(i), label, models.TextInputStyleShort, formatFloat(slot.Strength), true, 6))
	}
	return &models.InteractionResponse{
		Type: models.ResponseTypeModal,
		Data: &models.ResponseData{
			CustomID:   modalStrengths,
			Title:      "Adapter strengths (0.1-3)",
			Components: rows,
		},
	}
}

func textInputRow(customID, label string, style int, value string, required bool, maxLength int) models.ActionRow {
	input := models.Component{
		Type:     models.ComponentTypeTextInput,
		CustomID: customID,
		Label:    label,
		Style:    style,
		Value:    value,
		Required: &required,
	}
	if maxLength > 0 {
		input.MaxLength = &maxLength
	}
	return models.ActionRow{Type: models.ComponentTypeActionRow, Components: []models.Component{input}}
}

// modalValue finds a submitted text input by its custom id
func modalValue(data *models.InteractionData, customID string) string {
	for _, row := range data.Components {
		for _, component := range row.Components {
			if component.CustomID == customID {
				return component.Value
			}
		}
	}
	return ""
}

func orUnset(value string) string {
	if value == "" {
		return "unset"
	}
	return value
}

func seedDisplay(seedText string) string {
	if strings.TrimSpace(seedText) == "" {
		return "random"
	}
	return seedText
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// truncate shortens s to max runes with an ellipsis marker
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
