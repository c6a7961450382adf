// SPDX-License-Identifier: MIT

package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/model"
)

// Key layout:
//
//	user:<name>      hash  name, streamkey, archive
//	stream:<name>    hash  name, live, url, thumbnail, transcoded, transcode_url, updated_at
//	streams:live     set   names currently live
//	archives:<name>  list  JSON ArchiveRecord, newest last
//	restream:<id>    hash  user, server, state, updated_at
const (
	keyLiveSet = "streams:live"
)

func userKey(user string) string     { return "user:" + normalize(user) }
func streamKey(user string) string   { return "stream:" + normalize(user) }
func archivesKey(user string) string { return "archives:" + normalize(user) }
func restreamKey(id string) string   { return "restream:" + id }

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
}

// RedisStore is a Redis-backed implementation of Store.
type RedisStore struct {
	client *redis.Client
	urls   URLs
	logger zerolog.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, config RedisConfig, urls URLs, logger zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", config.Addr).
		Int("db", config.DB).
		Msg("connected to Redis credential store")

	return NewRedisStoreWithClient(client, urls, logger), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, urls URLs, logger zerolog.Logger) *RedisStore {
	return &RedisStore{client: client, urls: urls, logger: logger}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// RegisterStreamer creates or replaces credentials for user.
func (s *RedisStore) RegisterStreamer(ctx context.Context, user, key string, archive bool) error {
	return s.client.HSet(ctx, userKey(user),
		"name", user,
		"streamkey", key,
		"archive", strconv.FormatBool(archive),
	).Err()
}

func (s *RedisStore) CheckStreamKey(ctx context.Context, user, key string) (bool, error) {
	stored, err := s.client.HGet(ctx, userKey(user), "streamkey").Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check stream key: %w", err)
	}
	return keysEqual(stored, key), nil
}

func (s *RedisStore) CheckArchiveEnabled(ctx context.Context, user string) (bool, error) {
	raw, err := s.client.HGet(ctx, userKey(user), "archive").Result()
	if errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("%w: %s", ErrUnknownUser, user)
	}
	if err != nil {
		return false, fmt.Errorf("check archive: %w", err)
	}
	enabled, _ := strconv.ParseBool(raw)
	return enabled, nil
}

func (s *RedisStore) SetLiveStatus(ctx context.Context, user string, live bool) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, streamKey(user),
			"name", user,
			"live", strconv.FormatBool(live),
			"url", s.urls.HLS(user),
			"thumbnail", s.urls.Preview(user),
			"updated_at", time.Now().UTC().Format(time.RFC3339),
		)
		if live {
			p.SAdd(ctx, keyLiveSet, normalize(user))
		} else {
			p.SRem(ctx, keyLiveSet, normalize(user))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set live status: %w", err)
	}
	s.logger.Debug().Str("user", user).Bool("live", live).Msg("live status updated")
	return nil
}

func (s *RedisStore) SetTranscodeStatus(ctx context.Context, user string, transcoded bool, variant string) error {
	transcodeURL := ""
	if transcoded {
		transcodeURL = s.urls.Transcode(user, variant)
	}
	err := s.client.HSet(ctx, streamKey(user),
		"name", user,
		"transcoded", strconv.FormatBool(transcoded),
		"transcode_url", transcodeURL,
		"updated_at", time.Now().UTC().Format(time.RFC3339),
	).Err()
	if err != nil {
		return fmt.Errorf("set transcode status: %w", err)
	}
	return nil
}

func (s *RedisStore) SaveArchiveRecord(ctx context.Context, rec ArchiveRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode archive record: %w", err)
	}
	if err := s.client.RPush(ctx, archivesKey(rec.User), data).Err(); err != nil {
		return "", fmt.Errorf("save archive record: %w", err)
	}
	return rec.ID, nil
}

func (s *RedisStore) CreateRestream(ctx context.Context, user, server string) (string, error) {
	id := uuid.NewString()
	err := s.client.HSet(ctx, restreamKey(id),
		"user", user,
		"server", server,
		"state", string(model.StateStarting),
		"updated_at", time.Now().UTC().Format(time.RFC3339),
	).Err()
	if err != nil {
		return "", fmt.Errorf("create restream: %w", err)
	}
	return id, nil
}

func (s *RedisStore) SetRestreamState(ctx context.Context, id string, state model.State) error {
	n, err := s.client.Exists(ctx, restreamKey(id)).Result()
	if err != nil {
		return fmt.Errorf("set restream state: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownRestream, id)
	}
	return s.client.HSet(ctx, restreamKey(id),
		"state", string(state),
		"updated_at", time.Now().UTC().Format(time.RFC3339),
	).Err()
}

// Streamer returns the stored status for user.
func (s *RedisStore) Streamer(ctx context.Context, user string) (Streamer, bool, error) {
	vals, err := s.client.HGetAll(ctx, streamKey(user)).Result()
	if err != nil {
		return Streamer{}, false, err
	}
	if len(vals) == 0 {
		return Streamer{}, false, nil
	}
	out := Streamer{
		Name:         vals["name"],
		URL:          vals["url"],
		Thumbnail:    vals["thumbnail"],
		TranscodeURL: vals["transcode_url"],
	}
	out.Live, _ = strconv.ParseBool(vals["live"])
	out.Transcoded, _ = strconv.ParseBool(vals["transcoded"])
	out.UpdatedAt, _ = time.Parse(time.RFC3339, vals["updated_at"])
	return out, true, nil
}

// LiveUsers returns the normalized names of all live streamers.
func (s *RedisStore) LiveUsers(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, keyLiveSet).Result()
}

// Archives returns the saved archive records for user.
func (s *RedisStore) Archives(ctx context.Context, user string) ([]ArchiveRecord, error) {
	raw, err := s.client.LRange(ctx, archivesKey(user), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ArchiveRecord, 0, len(raw))
	for _, r := range raw {
		var rec ArchiveRecord
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			s.logger.Warn().Err(err).Str("user", user).Msg("skipping corrupt archive record")
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Restream returns the stored restream state.
func (s *RedisStore) Restream(ctx context.Context, id string) (Restream, bool, error) {
	vals, err := s.client.HGetAll(ctx, restreamKey(id)).Result()
	if err != nil {
		return Restream{}, false, err
	}
	if len(vals) == 0 {
		return Restream{}, false, nil
	}
	out := Restream{ID: id, User: vals["user"], Server: vals["server"], State: model.State(vals["state"])}
	out.UpdatedAt, _ = time.Parse(time.RFC3339, vals["updated_at"])
	return out, true, nil
}
