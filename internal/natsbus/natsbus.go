// Package natsbus implements the signalling transport the Access Gateway
// uses to register/deregister online status and broadcast logout, grounded
// on go-server/pkg/nats.Client's connection/handler/subject-builder shape,
// repurposed from Odin price-feed subjects to per-session signalling
// subjects.
package natsbus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Config configures a Bus connection.
type Config struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
	Logger          zerolog.Logger
}

// Bus wraps a nats.Conn for the gateway's signalling needs.
type Bus struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// Connect establishes the NATS connection used for online/offline and
// logout signalling between gateway instances.
func Connect(cfg Config) (*Bus, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
	}
	b := &Bus{logger: cfg.Logger}
	opts = append(opts,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn().Err(err).Msg("natsbus: disconnected")
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			b.logger.Info().Str("url", conn.ConnectedUrl()).Msg("natsbus: reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			b.logger.Error().Err(err).Msg("natsbus: error")
		}),
	)

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("natsbus: connect: %w", err)
	}
	b.conn = conn
	return b, nil
}

// subjects: signalling.online.{user_id}, signalling.offline.{user_id},
// signalling.logout.{session_id}; Publish uses the caller's topic as is.
func onlineSubject(userID string) string  { return fmt.Sprintf("signalling.online.%s", userID) }
func offlineSubject(userID string) string { return fmt.Sprintf("signalling.offline.%s", userID) }
func logoutSubject(sessionID string) string {
	return fmt.Sprintf("signalling.logout.%s", sessionID)
}

type onlinePayload struct {
	SessionID    string `json:"session_id"`
	ConnectionID string `json:"connection_id"`
}

// RegisterOnline publishes the online-registration signal for a session.
func (b *Bus) RegisterOnline(ctx context.Context, userID, sessionID, connectionID string) error {
	return b.publishJSON(onlineSubject(userID), onlinePayload{SessionID: sessionID, ConnectionID: connectionID})
}

// DeregisterOnline publishes the offline signal for a session.
func (b *Bus) DeregisterOnline(ctx context.Context, userID, sessionID string) error {
	return b.publishJSON(offlineSubject(userID), onlinePayload{SessionID: sessionID})
}

// Logout publishes a logout signal naming the session.
func (b *Bus) Logout(ctx context.Context, sessionID string) error {
	return b.conn.Publish(logoutSubject(sessionID), nil)
}

// Publish sends an arbitrary payload to topic, used for PublishSignal
// fan-out across gateway instances.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.conn.Publish(topic, payload); err != nil {
		return fmt.Errorf("natsbus: publish %s: %w", topic, err)
	}
	return nil
}

func (b *Bus) publishJSON(subject string, v interface{}) error {
	if err := b.conn.Publish(subject, marshalOrNil(v)); err != nil {
		return fmt.Errorf("natsbus: publish %s: %w", subject, err)
	}
	return nil
}

// Close closes the connection without draining it.
func (b *Bus) Close() {
	b.conn.Close()
}
