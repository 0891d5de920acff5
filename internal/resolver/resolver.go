// Package resolver turns the inbound page parameters into an AppointmentContext
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pushpaanand/teleconsult/internal/models"
	"github.com/pushpaanand/teleconsult/internal/utils"
)

// Inbound parameter names
const (
	ParamID         = "id"
	ParamToken      = "token"
	ParamAppNo      = "app_no"
	ParamUsername   = "username"
	ParamUserID     = "userid"
	ParamDepartment = "department"
	ParamDoctorName = "doctor_name"
)

// Decrypter opens an opaque parameter token
type Decrypter interface {
	Decrypt(ctx context.Context, token string) (string, error)
}

// Cache is the page-scoped store of earlier resolutions
type Cache interface {
	SaveResolution(ctx context.Context, tabKey string, res models.CachedResolution) error
	GetResolution(ctx context.Context, tabKey string) (models.CachedResolution, error)
}

// Resolver resolves inbound parameters. It is safe for concurrent use.
type Resolver struct {
	decrypter Decrypter
	cache     Cache
	log       zerolog.Logger
	now       func() time.Time
}

// New creates a resolver. cache may be nil, in which case every token is decrypted.
func New(decrypter Decrypter, cache Cache, logger zerolog.Logger) *Resolver {
	return &Resolver{
		decrypter: decrypter,
		cache:     cache,
		log:       logger.With().Str("component", "resolver").Logger(),
		now:       time.Now,
	}
}

// Resolve builds the appointment context from params. tabKey identifies the browser tab
// for the reload cache and may be empty.
//
// An opaque id (or token) takes precedence over discrete parameters. With neither present
// resolution fails with missing_parameters, whatever the tab has cached.
func (r *Resolver) Resolve(ctx context.Context, tabKey string, params url.Values) (models.AppointmentContext, error) {
	if token := opaqueToken(params); token != "" {
		bundle, err := r.bundleFor(ctx, tabKey, token)
		if err != nil {
			return models.AppointmentContext{}, err
		}
		return FromBundle(bundle)
	}

	if hasDiscrete(params) {
		return FromDiscrete(params)
	}

	return models.AppointmentContext{}, &Error{
		Reason: models.DenialMissingParameters,
		Err:    errors.New("no id, token or appointment parameters supplied"),
	}
}

func (r *Resolver) bundleFor(ctx context.Context, tabKey, token string) (string, error) {
	if cached, ok := r.cached(ctx, tabKey); ok && cached.Token == token {
		r.log.Debug().Str("tab", utils.SanitizeLogString(tabKey)).Msg("Reusing cached parameters for reload")
		return cached.Bundle, nil
	}

	if r.decrypter == nil {
		return "", &Error{Reason: models.DenialDecryptFailed, Err: errors.New("no decrypt service configured")}
	}
	bundle, err := r.decrypter.Decrypt(ctx, token)
	if err != nil {
		r.log.Warn().Err(err).Msg("Parameter decryption failed")
		return "", &Error{Reason: models.DenialDecryptFailed, Err: err}
	}

	if r.cache != nil && tabKey != "" {
		res := models.CachedResolution{Token: token, Bundle: bundle, StoredAt: r.now()}
		if err := r.cache.SaveResolution(ctx, tabKey, res); err != nil {
			r.log.Warn().Err(err).Msg("Failed to cache resolved parameters")
		}
	}
	return bundle, nil
}

func (r *Resolver) cached(ctx context.Context, tabKey string) (models.CachedResolution, bool) {
	if r.cache == nil || tabKey == "" {
		return models.CachedResolution{}, false
	}
	res, err := r.cache.GetResolution(ctx, tabKey)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			r.log.Warn().Err(err).Msg("Failed to read cached parameters")
		}
		return models.CachedResolution{}, false
	}
	return res, true
}

// FromBundle parses a decrypted query-string bundle
func FromBundle(bundle string) (models.AppointmentContext, error) {
	values, err := url.ParseQuery(strings.TrimPrefix(strings.TrimSpace(bundle), "?"))
	if err != nil {
		return models.AppointmentContext{}, &Error{
			Reason: models.DenialDecryptFailed,
			Err:    fmt.Errorf("decrypted bundle is not a query string: %w", err),
		}
	}
	return FromDiscrete(values)
}

// FromDiscrete builds the context from the discrete parameter set
func FromDiscrete(values url.Values) (models.AppointmentContext, error) {
	appNo := strings.TrimSpace(values.Get(ParamAppNo))
	appt := models.AppointmentContext{
		LocalParticipantID: strings.TrimSpace(values.Get(ParamUserID)),
		LocalDisplayName:   strings.TrimSpace(values.Get(ParamUsername)),
		CounterpartName:    strings.TrimSpace(values.Get(ParamDoctorName)),
		Department:         strings.TrimSpace(values.Get(ParamDepartment)),
	}
	if appNo != "" {
		appt.RoomID = models.RoomIDForAppointment(appNo)
	}

	if err := appt.Validate(); err != nil {
		return models.AppointmentContext{}, &Error{Reason: models.DenialIncompleteParameters, Err: err}
	}
	return appt, nil
}

// opaqueToken returns the id (or token) parameter. Query decoding turns a literal '+'
// into a space, so spaces are restored.
func opaqueToken(params url.Values) string {
	token := params.Get(ParamID)
	if token == "" {
		token = params.Get(ParamToken)
	}
	return strings.TrimSpace(strings.ReplaceAll(token, " ", "+"))
}

func hasDiscrete(params url.Values) bool {
	for _, key := range []string{ParamAppNo, ParamUsername, ParamUserID} {
		if params.Get(key) != "" {
			return true
		}
	}
	return false
}
