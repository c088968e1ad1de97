package discord

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/pictor/internal/models"
)

func sampleJob() *models.Job {
	return &models.Job{
		ID:             "job_1",
		RequesterID:    "user-1",
		ChannelID:      "chan-1",
		Model:          "base-v1.safetensors",
		Sampler:        "dpmpp_2m_sde",
		Scheduler:      "karras",
		Steps:          30,
		CFG:            7.5,
		Seed:           424242,
		Size:           models.SizeLandscape,
		PositivePrompt: "a lighthouse at dusk",
		NegativePrompt: "blurry",
	}
}

func TestResultCustomID_RoundTrip(t *testing.T) {
	for _, action := range []string{
		ResultActionShare, ResultActionReroll, ResultActionEdit,
		ResultActionUpscale, ResultActionDelete, ResultActionDeleteUpscale,
	} {
		id := ResultCustomID(action, "job_42")
		parsed, jobID, ok := ParseResultAction(id)
		require.True(t, ok, id)
		assert.Equal(t, action, parsed)
		assert.Equal(t, "job_42", jobID)
	}
}

func TestParseResultAction_Rejects(t *testing.T) {
	tests := []string{
		"",
		"plain",
		"other:share:job_1",
		"result:",
		"result:share",
		"result:share:",
		"result::job_1",
	}
	for _, id := range tests {
		_, _, ok := ParseResultAction(id)
		assert.False(t, ok, "custom id %q", id)
	}
}

func fieldValue(embed models.Embed, name string) (string, bool) {
	for _, f := range embed.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

func TestResultEmbed_HidesPromptsByDefault(t *testing.T) {
	embed := ResultEmbed(sampleJob(), "out.png", false)

	assert.Equal(t, "Render complete", embed.Title)
	assert.Equal(t, ColorResult, embed.Color)

	for name, want := range map[string]string{
		"Model":     "base-v1.safetensors",
		"Sampler":   "dpmpp_2m_sde",
		"Scheduler": "karras",
		"Steps":     "30",
		"CFG":       "7.5",
		"Seed":      "424242",
		"Size":      "landscape",
	} {
		value, found := fieldValue(embed, name)
		require.True(t, found, "field %s", name)
		assert.Equal(t, want, value)
	}

	_, found := fieldValue(embed, "Prompt")
	assert.False(t, found)
	require.NotNil(t, embed.Footer)
	assert.Contains(t, embed.Footer.Text, "hidden")

	require.NotNil(t, embed.Image)
	assert.Equal(t, "attachment://out.png", embed.Image.URL)
}

func TestResultEmbed_RevealsPrompts(t *testing.T) {
	embed := ResultEmbed(sampleJob(), "", true)

	prompt, found := fieldValue(embed, "Prompt")
	require.True(t, found)
	assert.Equal(t, "a lighthouse at dusk", prompt)

	negative, found := fieldValue(embed, "Negative prompt")
	require.True(t, found)
	assert.Equal(t, "blurry", negative)

	assert.Nil(t, embed.Footer)
	assert.Nil(t, embed.Image)
}

func TestResultEmbed_OmitsEmptyNegativePrompt(t *testing.T) {
	job := sampleJob()
	job.NegativePrompt = ""

	embed := ResultEmbed(job, "", true)
	_, found := fieldValue(embed, "Negative prompt")
	assert.False(t, found)
}

func TestResultEmbed_ClipsLongPrompt(t *testing.T) {
	job := sampleJob()
	job.PositivePrompt = strings.Repeat("é", 1500)

	embed := ResultEmbed(job, "", true)
	prompt, found := fieldValue(embed, "Prompt")
	require.True(t, found)
	runes := []rune(prompt)
	assert.Len(t, runes, 1000)
	assert.Equal(t, '…', runes[len(runes)-1])
}

func TestResultEmbed_AdapterLine(t *testing.T) {
	job := sampleJob()
	job.Adapters = []models.AdapterSlot{
		{Name: "glow.safetensors", Strength: 0.8},
		{Name: "grain.safetensors", Strength: 1},
	}

	embed := ResultEmbed(job, "", false)
	line, found := fieldValue(embed, "Adapters")
	require.True(t, found)
	assert.Equal(t, "glow.safetensors (0.8), grain.safetensors (1)", line)
}

func buttonIDs(rows []models.ActionRow) []string {
	var ids []string
	for _, row := range rows {
		for _, c := range row.Components {
			ids = append(ids, c.CustomID)
		}
	}
	return ids
}

func TestResultComponents(t *testing.T) {
	withUpscale := ResultComponents("job_1", true)
	require.Len(t, withUpscale, 1)
	assert.Equal(t, []string{
		"result:share:job_1",
		"result:reroll:job_1",
		"result:edit:job_1",
		"result:upscale:job_1",
		"result:delete:job_1",
	}, buttonIDs(withUpscale))

	withoutUpscale := ResultComponents("job_1", false)
	assert.Equal(t, []string{
		"result:share:job_1",
		"result:reroll:job_1",
		"result:edit:job_1",
		"result:delete:job_1",
	}, buttonIDs(withoutUpscale))
}

func TestRenderResultMessage(t *testing.T) {
	images := []models.FileAttachment{
		{Name: "first.png", Data: []byte("a")},
		{Name: "second.png", Data: []byte("b")},
	}

	payload := renderResultMessage(sampleJob(), images, true)

	assert.Equal(t, "<@user-1>", payload.Content)
	require.Len(t, payload.Embeds, 1)
	require.NotNil(t, payload.Embeds[0].Image)
	assert.Equal(t, "attachment://first.png", payload.Embeds[0].Image.URL)
	// prompts stay hidden on the public post
	require.NotNil(t, payload.Embeds[0].Footer)
	assert.Contains(t, buttonIDs(payload.Components), "result:upscale:job_1")
}

func TestUpscaleResultMessage(t *testing.T) {
	job := &models.UpscaleJob{
		ID:           "ups_1",
		RequesterID:  "user-1",
		UpscaleModel: "4x-ultra.pth",
		Workflow:     models.UpscaleWorkflowUltimate,
	}

	payload := upscaleResultMessage(job, []models.FileAttachment{{Name: "big.png"}})

	assert.Equal(t, "<@user-1>", payload.Content)
	require.Len(t, payload.Embeds, 1)
	assert.Equal(t, "Upscale complete", payload.Embeds[0].Title)
	assert.Equal(t, "attachment://big.png", payload.Embeds[0].Image.URL)
	assert.Equal(t, []string{"result:udelete:ups_1"}, buttonIDs(payload.Components))
}

func TestFailureMessage(t *testing.T) {
	payload := failureMessage("user-1", "the renderer rejected the job")

	assert.Equal(t, "<@user-1>", payload.Content)
	require.Len(t, payload.Embeds, 1)
	assert.Equal(t, "Job failed", payload.Embeds[0].Title)
	assert.Equal(t, "the renderer rejected the job", payload.Embeds[0].Description)
	assert.Equal(t, ColorWarning, payload.Embeds[0].Color)
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", 10))
	assert.Equal(t, "exact", clip("exact", 5))

	clipped := clip(strings.Repeat("x", 20), 10)
	assert.Len(t, []rune(clipped), 10)
	assert.True(t, strings.HasSuffix(clipped, "…"))
}

func TestFormatCFG(t *testing.T) {
	assert.Equal(t, "5", formatCFG(5.0))
	assert.Equal(t, "7.5", formatCFG(7.5))
	assert.Equal(t, "12.75", formatCFG(12.75))
}
