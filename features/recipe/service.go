package recipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"recipebox/backend/internal/adapter/scraper"
	"recipebox/backend/internal/ingredient"
	"recipebox/backend/internal/middleware"
)

// ErrUnscrapable means the page could not be fetched or held no recipe.
var ErrUnscrapable = errors.New("unable to scrape recipe")

const DefaultLanguage = "pl"

type Store interface {
	Save(ctx context.Context, rec *Recipe) error
	Get(ctx context.Context, id string) (*Recipe, error)
	MarkFailed(ctx context.Context, id string) error
}

type Scraper interface {
	Scrape(ctx context.Context, url string) (*scraper.Recipe, error)
}

type Channels interface {
	CreateChannel(ctx context.Context, token string) (string, error)
	DeleteChannel(ctx context.Context, channel string) error
}

type Workflow interface {
	Start(ctx context.Context, recipeID string, expiresAt time.Time, items []ingredient.WorkItem) error
}

type ScrapeRequest struct {
	URL               string
	OwnerID           string
	ParseIngredients  bool
	DefaultLanguage   string
	NotificationToken string
}

type Service struct {
	store    Store
	scraper  Scraper
	channels Channels
	workflow Workflow
	ttl      time.Duration
	now      func() time.Time
}

func NewService(store Store, s Scraper, channels Channels, wf Workflow, ttl time.Duration) *Service {
	return &Service{store: store, scraper: s, channels: channels, workflow: wf, ttl: ttl, now: time.Now}
}

// Scrape stores the recipe found at req.URL and, when asked to, starts
// resolving its ingredient lines. It returns the new recipe id.
func (s *Service) Scrape(ctx context.Context, req ScrapeRequest) (string, error) {
	scraped, err := s.scraper.Scrape(ctx, req.URL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnscrapable, err)
	}

	rec := build(scraped, req.ParseIngredients)
	rec.OwnerID = req.OwnerID
	rec.ExpiresAt = s.now().Add(s.ttl)
	rec.IsComplete = !req.ParseIngredients
	ctx = middleware.WithRecipeID(ctx, rec.ID)

	if req.ParseIngredients && req.NotificationToken != "" {
		channel, err := s.channels.CreateChannel(ctx, req.NotificationToken)
		if err != nil {
			return "", fmt.Errorf("create notification channel: %w", err)
		}
		rec.NotificationChannel = &channel
	}

	if err := s.store.Save(ctx, rec); err != nil {
		s.releaseChannel(ctx, rec)
		return "", fmt.Errorf("save recipe: %w", err)
	}
	slog.InfoContext(ctx, "recipe saved", "url", req.URL, "parse_ingredients", req.ParseIngredients)

	if !req.ParseIngredients {
		return rec.ID, nil
	}

	lang := req.DefaultLanguage
	if lang == "" {
		lang = DefaultLanguage
	}
	items := workItems(rec, scraped.Lang, lang)
	if err := s.workflow.Start(ctx, rec.ID, rec.ExpiresAt, items); err != nil {
		// Nothing will ever resolve these lines, so settle the recipe now.
		if ferr := s.store.MarkFailed(ctx, rec.ID); ferr != nil {
			slog.ErrorContext(ctx, "failed to mark recipe failed after workflow error", "error", ferr)
		}
		s.releaseChannel(ctx, rec)
		return "", fmt.Errorf("start ingredient workflow: %w", err)
	}
	return rec.ID, nil
}

// Get returns a finished recipe owned by ownerID. Anything else looks missing.
func (s *Service) Get(ctx context.Context, id, ownerID string) (*Recipe, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.IsComplete || rec.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *Service) releaseChannel(ctx context.Context, rec *Recipe) {
	if rec.NotificationChannel == nil {
		return
	}
	if err := s.channels.DeleteChannel(ctx, *rec.NotificationChannel); err != nil {
		slog.WarnContext(ctx, "failed to release notification channel", "error", err)
	}
}

func build(scraped *scraper.Recipe, parse bool) *Recipe {
	rec := &Recipe{
		ID: uuid.New().String(),
		Content: Content{
			Title:            scraped.Title,
			Description:      scraped.Description,
			Steps:            scraped.Steps,
			URL:              scraped.CanonicalURL,
			Category:         scraped.Category,
			ImageURL:         scraped.ImageURL,
			Lang:             scraped.Lang,
			IngredientGroups: make([]IngredientGroup, 0, len(scraped.Groups)),
		},
		IngredientStatuses: map[string]ingredient.Status{},
	}
	if rec.Content.Steps == nil {
		rec.Content.Steps = []string{}
	}

	for _, g := range scraped.Groups {
		group := IngredientGroup{ID: uuid.New().String(), Name: g.Purpose, Ingredients: make([]Ingredient, 0, len(g.Ingredients))}
		for _, line := range g.Ingredients {
			ing := Ingredient{ID: uuid.New().String(), Name: line, OriginalText: line, IsProcessed: !parse}
			if !parse {
				rec.IngredientStatuses[ing.ID] = ingredient.StatusOff
			}
			group.Ingredients = append(group.Ingredients, ing)
		}
		rec.Content.IngredientGroups = append(rec.Content.IngredientGroups, group)
	}
	return rec
}

func workItems(rec *Recipe, detected, fallback string) []ingredient.WorkItem {
	var items []ingredient.WorkItem
	for _, g := range rec.Content.IngredientGroups {
		for _, ing := range g.Ingredients {
			items = append(items, ingredient.WorkItem{
				RecipeID:         rec.ID,
				IngredientID:     ing.ID,
				Content:          ing.Name,
				DetectedLanguage: detected,
				FallbackLanguage: fallback,
				RecipeExpiry:     rec.ExpiresAt,
			})
		}
	}
	return items
}
