package settings

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// ErrInvalidLimit is returned for limit input that is not a positive number of minutes.
var ErrInvalidLimit = errors.New("invalid daily limit")

// LimitSetter applies a validated limit in whole minutes.
type LimitSetter interface {
	SetLimit(minutes int64) bool
}

// ParseMinutes validates user-entered minutes and rounds to the nearest minute.
func ParseMinutes(input string) (int64, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidLimit)
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidLimit, s)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q is not finite", ErrInvalidLimit, s)
	}
	if f <= 0 {
		return 0, fmt.Errorf("%w: %q must be greater than zero", ErrInvalidLimit, s)
	}

	minutes := math.Round(f)
	if minutes < 1 {
		return 0, fmt.Errorf("%w: %q rounds to zero minutes", ErrInvalidLimit, s)
	}
	if minutes > math.MaxInt64/60 {
		return 0, fmt.Errorf("%w: %q is too large", ErrInvalidLimit, s)
	}

	return int64(minutes), nil
}

// Controller validates and applies limit edits
type Controller struct {
	target LimitSetter
	logger zerolog.Logger
}

// NewController creates a settings controller writing to target
func NewController(target LimitSetter, logger zerolog.Logger) *Controller {
	return &Controller{
		target: target,
		logger: logger.With().Str("component", "settings").Logger(),
	}
}

// RequestSetLimit applies input if it is valid. Invalid input is rejected
// without touching the current limit.
func (c *Controller) RequestSetLimit(input string) bool {
	minutes, err := ParseMinutes(input)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Rejected limit edit")
		return false
	}

	return c.target.SetLimit(minutes)
}
