package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/eldtechnologies/deskchat/internal/models"
)

// DemoPassword is the password of every seeded account.
const DemoPassword = "password123"

var demoUsers = []struct {
	username, name string
	role           models.Role
}{
	{"agent1", "Agent John", models.RoleAgent},
	{"agent2", "Agent Sarah", models.RoleAgent},
	{"agent3", "Agent David", models.RoleAgent},
	{"superagent1", "Super Agent Admin", models.RoleSuperAgent},
	{"customer1", "Customer Mike", models.RoleCustomer},
	{"customer2", "Customer Lisa", models.RoleCustomer},
}

var demoChats = []struct {
	customer, agent string
	greeting        string
}{
	{"customer1", "agent1", "Hi, I need help with my order."},
	{"customer2", "agent2", "Hello, my payment did not go through."},
}

// Seed fills an empty store with demo accounts and two open chats. A store
// that already has users is left alone.
func Seed(ctx context.Context, ds DataStore, logger zerolog.Logger) error {
	count, err := ds.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		logger.Debug().Int64("users", count).Msg("store already seeded")
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(DemoPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	ids := make(map[string]string, len(demoUsers))
	for _, d := range demoUsers {
		u := &models.User{
			Username:     d.username,
			Email:        d.username + "@example.com",
			PasswordHash: string(hash),
			Name:         d.name,
			Role:         d.role,
		}
		if err := ds.CreateUser(ctx, u); err != nil {
			return fmt.Errorf("seed user %s: %w", d.username, err)
		}
		ids[d.username] = u.ID
	}

	for _, d := range demoChats {
		agentID := ids[d.agent]
		chat, err := ds.CreateChat(ctx, ids[d.customer], &agentID)
		if err != nil {
			return fmt.Errorf("seed chat %s/%s: %w", d.customer, d.agent, err)
		}
		msg := &models.Message{ChatID: chat.ID, SenderID: ids[d.customer], Content: d.greeting, Type: models.MessageText}
		if err := ds.CreateMessage(ctx, msg); err != nil {
			return fmt.Errorf("seed message: %w", err)
		}
	}

	logger.Info().
		Int("users", len(demoUsers)).
		Int("chats", len(demoChats)).
		Msg("seeded demo data")
	return nil
}
