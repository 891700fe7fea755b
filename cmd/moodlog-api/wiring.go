package main

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/calendar"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/config"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/diary"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/empathy"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/server"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	tokenIssuer   = "moodlog-api"
	tokenAudience = "moodlog-clients"
)

type application struct {
	tokens   *auth.TokenIssuer
	users    *users.Service
	diaries  *diary.Service
	calendar *calendar.Service
}

func buildApplication(appConfig config.AppConfig, db *gorm.DB, realtime *server.RealtimeDispatcher, logger *zap.Logger) (application, error) {
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        tokenIssuer,
		Audience:      tokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return application{}, err
	}

	idProvider := ids.NewUUIDProvider()

	usersService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		Hasher:     auth.NewPasswordHasher(appConfig.BcryptCost),
		IDProvider: idProvider,
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return application{}, err
	}

	calendarService, err := calendar.NewService(calendar.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return application{}, err
	}

	generator, err := newGenerator(appConfig.LLM, logger)
	if err != nil {
		return application{}, err
	}
	engine, err := empathy.NewEngine(empathy.EngineConfig{
		Generator: generator,
		Timeout:   appConfig.LLM.Timeout,
		Logger:    logger,
	})
	if err != nil {
		return application{}, err
	}

	diaryConfig := diary.ServiceConfig{
		Database:   db,
		Classifier: engine,
		Calendar:   calendarService,
		IDProvider: idProvider,
		Clock:      time.Now,
		Location:   appConfig.Location,
		Logger:     logger,
	}
	if realtime != nil {
		diaryConfig.Publisher = realtime
	}
	diaryService, err := diary.NewService(diaryConfig)
	if err != nil {
		return application{}, err
	}

	return application{
		tokens:   tokens,
		users:    usersService,
		diaries:  diaryService,
		calendar: calendarService,
	}, nil
}

// newGenerator selects the empathy backend. A provider without an API key
// degrades to the disabled generator so diaries can still be written.
func newGenerator(llm config.LLMConfig, logger *zap.Logger) (empathy.Generator, error) {
	if llm.Provider == config.ProviderDisabled {
		return empathy.DisabledGenerator{}, nil
	}
	if strings.TrimSpace(llm.APIKey) == "" {
		logger.Warn("llm api key missing, empathy generation disabled", zap.String("provider", llm.Provider))
		return empathy.DisabledGenerator{}, nil
	}
	switch llm.Provider {
	case config.ProviderAnthropic:
		return empathy.NewAnthropicGenerator(empathy.AnthropicConfig{
			APIKey:  llm.APIKey,
			BaseURL: llm.BaseURL,
			Model:   llm.Model,
		})
	default:
		return empathy.NewOpenAIGenerator(empathy.OpenAIConfig{
			APIKey:  llm.APIKey,
			BaseURL: llm.BaseURL,
			Model:   llm.Model,
		})
	}
}
