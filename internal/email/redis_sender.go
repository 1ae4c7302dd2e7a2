package email

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// MockEmailTTL is how long a captured email stays readable in Redis.
const MockEmailTTL = 5 * time.Minute

// RedisSender stores emails in Redis instead of sending them, so end-to-end tests can read them back.
type RedisSender struct {
	client *redis.Client
	from   string
}

// NewRedisSender creates a new RedisSender
func NewRedisSender(client *redis.Client, from string) *RedisSender {
	return &RedisSender{client: client, from: from}
}

// MockEmailKey is the Redis key of the last email of a template sent to an address.
func MockEmailKey(to, templateID string) string {
	return fmt.Sprintf("mockemail:%s:%s", to, templateID)
}

// templateIDOf reads the template header from the message headers.
func templateIDOf(rawMessage []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(rawMessage))
	prefix := TemplateHeader + ":"
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			break
		}
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return "unknown"
}

// Send stores a JSON representation of the email under MockEmailKey for each recipient.
func (s *RedisSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	templateID := templateIDOf(rawMessage)
	emailData := map[string]interface{}{
		"to":          strings.Join(to, ", "),
		"from":        s.from,
		"subject":     subject,
		"body":        string(rawMessage),
		"sent_at":     time.Now().UTC().Format(time.RFC3339Nano),
		"template_id": templateID,
	}

	jsonData, err := json.Marshal(emailData)
	if err != nil {
		return fmt.Errorf("failed to marshal email data: %w", err)
	}

	for _, addr := range to {
		key := MockEmailKey(addr, templateID)
		if err := s.client.Set(ctx, key, jsonData, MockEmailTTL).Err(); err != nil {
			return fmt.Errorf("failed to store email in Redis key '%s': %w", key, err)
		}
		log.Debug().Str("key", key).Str("subject", subject).Msg("mock email stored in Redis")
	}
	return nil
}
