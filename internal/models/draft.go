package models

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Draft is the per-user form state while a render is being composed.
// It lives in memory only; submitting converts it into a Job row.
type Draft struct {
	UserID         string        `json:"user_id"`
	ChannelID      string        `json:"channel_id"`
	Model          string        `json:"model"`
	Sampler        string        `json:"sampler"`
	Scheduler      string        `json:"scheduler"`
	Steps          int           `json:"steps" validate:"min=1,max=150"`
	CFG            float64       `json:"cfg" validate:"min=1,max=30"`
	SeedText       string        `json:"seed_text"` // Raw entry, resolved at submit
	Size           SizePreset    `json:"size"`
	PositivePrompt string        `json:"positive_prompt"`
	NegativePrompt string        `json:"negative_prompt"`
	Adapters       []AdapterSlot `json:"adapters" validate:"max=4,dive"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

var draftValidate = validator.New()

// Validate checks the numeric bounds and adapter limits of the draft
func (d *Draft) Validate() error {
	if err := draftValidate.Struct(d); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			fe := validationErrors[0]
			return fmt.Errorf("%s is out of range (rule %s)", strings.ToLower(fe.Field()), fe.Tag())
		}
		return err
	}
	return nil
}

// ResolveSeed turns the draft's raw seed text into a concrete seed.
// Empty or "random" draws a fresh seed; anything else must parse as an
// integer within 0..MaxSeed.
func ResolveSeed(text string) (int64, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || strings.EqualFold(trimmed, "random") {
		return RandomSeed(), nil
	}
	seed, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("seed %q is not a number", trimmed)
	}
	if seed < 0 || seed > MaxSeed {
		return 0, fmt.Errorf("seed %d is outside 0..%d", seed, MaxSeed)
	}
	return seed, nil
}

// RandomSeed draws a uniformly random seed in 0..MaxSeed from the
// system entropy source.
func RandomSeed() int64 {
	var buf [8]byte
	_, _ = rand.Read(buf[:]) // never fails on supported platforms
	return int64(binary.BigEndian.Uint64(buf[:]) & uint64(MaxSeed))
}
