package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"triptrack/internal/config"
	"triptrack/internal/logger"
	"triptrack/internal/model"
	"triptrack/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.New(cfg)
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := repository.Connect(ctx, cfg.MongoURI, 3, 500*time.Millisecond, log)
	if err != nil {
		log.Fatal("failed to connect to MongoDB", zap.Error(err))
	}
	defer client.Disconnect(ctx)

	db := client.Database(cfg.MongoDatabase)
	if err := repository.EnsureIndexes(ctx, db); err != nil {
		log.Fatal("failed to ensure indexes", zap.Error(err))
	}

	users := repository.NewUserRepo(db)
	trips := repository.NewTripRepo(db)

	creator, _, err := users.GetOrCreateByEmail(ctx, "guide@triptrack.dev", "Demo Guide")
	if err != nil {
		log.Fatal("failed to create demo user", zap.Error(err))
	}

	trip := &model.Trip{
		Creator:     creator.ID,
		Name:        "Old Town Discovery Walk",
		Description: "Three stops through the old town with a quiz and a treasure hunt.",
		Stops: []model.Stop{
			{
				Location: model.Location{Lon: 34.7520, Lat: 32.0543},
				Experience: &model.Experience{
					Type:  model.ExperienceTrivia,
					Score: 10,
					Data: map[string]interface{}{
						"question": "In which century was the clock tower built?",
						"answers":  []string{"18th", "19th", "20th"},
						"correct":  1,
					},
				},
			},
			{
				Location: model.Location{Lon: 34.7535, Lat: 32.0530},
			},
			{
				Location: model.Location{Lon: 34.7551, Lat: 32.0519},
				Experience: &model.Experience{
					Type:  model.ExperienceTreasureFind,
					Score: 30,
					Data: map[string]interface{}{
						"hint": "Look under the zodiac bridge",
					},
				},
			},
		},
		Reward: &model.Reward{Title: "Free coffee at the harbour"},
	}

	if err := trips.Create(ctx, trip); err != nil {
		log.Fatal("failed to insert trip", zap.Error(err))
	}

	fmt.Printf("Created trip %q (%s) for %s with %d experiences\n",
		trip.Name, trip.ID.Hex(), creator.Email, trip.ExperienceCount())
}
