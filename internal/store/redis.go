package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/mithzak/are-you-dead/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Each user is one hash; mutations are single Lua scripts so a check-in and
// an escalation flip on the same key never interleave. Timestamps are unix
// microseconds.
var (
	createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('SADD', KEYS[2], ARGV[1])
return 1
`)

	checkInScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return {'not_found'}
end
local last = tonumber(redis.call('HGET', KEYS[1], 'last_check_in'))
local escalated = redis.call('HGET', KEYS[1], 'escalated')
local observed = tonumber(ARGV[1])
if observed < last or (escalated == '1' and observed <= last) then
	return {'stale'}
end
redis.call('HSET', KEYS[1], 'last_check_in', ARGV[1], 'battery', ARGV[2], 'lat', ARGV[3], 'lng', ARGV[4], 'escalated', '0')
local r = redis.call('HGETALL', KEYS[1])
table.insert(r, 1, 'ok')
return r
`)

	markEscalatedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return {'not_found'}
end
if redis.call('HGET', KEYS[1], 'escalated') == '1' then
	return {'already'}
end
if redis.call('HGET', KEYS[1], 'last_check_in') ~= ARGV[1] then
	return {'superseded'}
end
redis.call('HSET', KEYS[1], 'escalated', '1')
local r = redis.call('HGETALL', KEYS[1])
table.insert(r, 1, 'ok')
return r
`)

	deleteScript = redis.NewScript(`
if redis.call('DEL', KEYS[1]) == 0 then
	return 0
end
redis.call('SREM', KEYS[2], ARGV[1])
return 1
`)
)

// RedisStore keeps user records in Redis hashes
type RedisStore struct {
	client    *redis.Client
	keyPrefix string // e.g. "safecheck:user:"
	indexKey  string // set of all user ids
	logger    *zap.Logger
}

// NewRedisStore keyPrefix defaults to "safecheck:"
func NewRedisStore(client *redis.Client, keyPrefix string, logger *zap.Logger) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "safecheck:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "user:",
		indexKey:  keyPrefix + "users",
		logger:    logger,
	}
}

func (s *RedisStore) userKey(id string) string {
	return s.keyPrefix + id
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.UserRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.userKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeUserHash(fields)
}

func (s *RedisStore) Create(ctx context.Context, rec *models.UserRecord) error {
	if err := validateNew(rec); err != nil {
		return err
	}
	contacts, err := json.Marshal(contactsOrEmpty(rec.EmergencyContacts))
	if err != nil {
		return fmt.Errorf("failed to marshal contacts: %w", err)
	}
	lat, lng := encodeLocation(rec.LastLocation)
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = rec.LastCheckIn
	}

	created, err := createScript.Run(ctx, s.client,
		[]string{s.userKey(rec.ID), s.indexKey},
		rec.ID,
		"id", rec.ID,
		"name", rec.Name,
		"last_check_in", encodeTime(rec.LastCheckIn),
		"battery", strconv.Itoa(rec.BatteryLevel),
		"lat", lat,
		"lng", lng,
		"escalated", encodeBool(rec.IsEscalated),
		"contacts", string(contacts),
		"created_at", encodeTime(createdAt),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	if created == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *RedisStore) UpsertCheckIn(ctx context.Context, in models.CheckIn) (*models.UserRecord, error) {
	lat, lng := encodeLocation(in.Location)
	res, err := checkInScript.Run(ctx, s.client,
		[]string{s.userKey(in.UserID)},
		encodeTime(in.ObservedAt),
		strconv.Itoa(in.BatteryLevel),
		lat,
		lng,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to record check-in: %w", err)
	}
	return decodeScriptResult(res)
}

func (s *RedisStore) ListAll(ctx context.Context) ([]models.UserRecord, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list user ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.userKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}

	out := make([]models.UserRecord, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// erased between SMEMBERS and HGETALL
			continue
		}
		rec, err := decodeUserHash(fields)
		if err != nil {
			s.logger.Warn("Skipping undecodable user record",
				zap.String("user_id", ids[i]),
				zap.Error(err),
			)
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *RedisStore) MarkEscalated(ctx context.Context, id string, observedLastCheckIn time.Time) (*models.UserRecord, error) {
	res, err := markEscalatedScript.Run(ctx, s.client,
		[]string{s.userKey(id)},
		encodeTime(observedLastCheckIn),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to mark escalated: %w", err)
	}
	return decodeScriptResult(res)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	deleted, err := deleteScript.Run(ctx, s.client, []string{s.userKey(id), s.indexKey}, id).Int()
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if deleted == 0 {
		return ErrNotFound
	}
	return nil
}

// Close the client is owned by the caller
func (s *RedisStore) Close() error { return nil }

func decodeScriptResult(res []interface{}) (*models.UserRecord, error) {
	if len(res) == 0 {
		return nil, errors.New("empty script result")
	}
	status, _ := res[0].(string)
	switch status {
	case "ok":
	case "not_found":
		return nil, ErrNotFound
	case "stale":
		return nil, ErrStale
	case "already":
		return nil, ErrAlreadyEscalated
	case "superseded":
		return nil, ErrSuperseded
	default:
		return nil, fmt.Errorf("unexpected script status %q", status)
	}

	fields := make(map[string]string, (len(res)-1)/2)
	for i := 1; i+1 < len(res); i += 2 {
		k, _ := res[i].(string)
		v, _ := res[i+1].(string)
		fields[k] = v
	}
	return decodeUserHash(fields)
}

func decodeUserHash(fields map[string]string) (*models.UserRecord, error) {
	rec := &models.UserRecord{
		ID:          fields["id"],
		Name:        fields["name"],
		IsEscalated: fields["escalated"] == "1",
	}

	var err error
	if rec.LastCheckIn, err = decodeTime(fields["last_check_in"]); err != nil {
		return nil, fmt.Errorf("invalid last_check_in: %w", err)
	}
	if v := fields["created_at"]; v != "" {
		if rec.CreatedAt, err = decodeTime(v); err != nil {
			return nil, fmt.Errorf("invalid created_at: %w", err)
		}
	}
	if v := fields["battery"]; v != "" {
		if rec.BatteryLevel, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid battery: %w", err)
		}
	}
	if fields["lat"] != "" && fields["lng"] != "" {
		lat, err1 := strconv.ParseFloat(fields["lat"], 64)
		lng, err2 := strconv.ParseFloat(fields["lng"], 64)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("invalid location %q,%q", fields["lat"], fields["lng"])
		}
		rec.LastLocation = &models.Location{Lat: lat, Lng: lng}
	}
	if v := fields["contacts"]; v != "" {
		if err := json.Unmarshal([]byte(v), &rec.EmergencyContacts); err != nil {
			return nil, fmt.Errorf("invalid contacts: %w", err)
		}
	}
	return rec, nil
}

func encodeTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func decodeTime(s string) (time.Time, error) {
	us, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(us).UTC(), nil
}

func encodeBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func encodeLocation(loc *models.Location) (string, string) {
	if loc == nil {
		return "", ""
	}
	return strconv.FormatFloat(loc.Lat, 'f', -1, 64), strconv.FormatFloat(loc.Lng, 'f', -1, 64)
}

func contactsOrEmpty(c []models.EmergencyContact) []models.EmergencyContact {
	if c == nil {
		return []models.EmergencyContact{}
	}
	return c
}
