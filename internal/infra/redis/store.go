package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"quizroom/internal/domain"
)

// Key layout:
//
//	room:{id}                  hash of room flags and listing metadata
//	room:{id}:questions        JSON question list
//	room:{id}:players          set of user ids
//	room:{id}:player:{uid}     player hash (score via HINCRBY)
//	room:{id}:answers          zset of answer ids scored by seq
//	room:{id}:answer:{aid}     answer hash
//	room:{id}:slots            hash user:question -> scored answer id
//	room:{id}:buzzes           zset of buzz ids scored by seq
//	room:{id}:buzz:{bid}       buzz hash
//	room:{id}:events           stream of room events
//	rooms:finished             zset of finished room ids scored by finishedAt
//	rooms:open                 set of public rooms still waiting
//	rooms:seq                  insertion counter
const (
	finishedKey = "rooms:finished"
	openKey     = "rooms:open"
	seqKey      = "rooms:seq"
)

func roomKey(id string) string           { return "room:" + id }
func questionsKey(id string) string      { return "room:" + id + ":questions" }
func playersKey(id string) string        { return "room:" + id + ":players" }
func playerKey(id, uid string) string    { return "room:" + id + ":player:" + uid }
func answersKey(id string) string        { return "room:" + id + ":answers" }
func answerKey(id, aid string) string    { return "room:" + id + ":answer:" + aid }
func slotsKey(id string) string          { return "room:" + id + ":slots" }
func buzzesKey(id string) string         { return "room:" + id + ":buzzes" }
func buzzKey(id, bid string) string      { return "room:" + id + ":buzz:" + bid }
func eventsKey(id string) string         { return "room:" + id + ":events" }
func slotField(uid string, q int) string { return uid + ":" + strconv.Itoa(q) }

// Options tunes the change feed and event streams.
type Options struct {
	Stream       string        // change feed stream key
	Group        string        // consumer group shared by engine replicas
	Consumer     string        // this replica's consumer name
	Block        time.Duration // XREAD/XREADGROUP block timeout
	ClaimIdle    time.Duration // deliveries idle this long are reclaimed
	EventsMaxLen int64         // approximate cap per room event stream
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Stream == "" {
		o.Stream = "quizroom:changes"
	}
	if o.Group == "" {
		o.Group = "engine"
	}
	if o.Consumer == "" {
		o.Consumer = "engine-" + uuid.NewString()[:8]
	}
	if o.Block <= 0 {
		o.Block = 2 * time.Second
	}
	if o.ClaimIdle <= 0 {
		o.ClaimIdle = time.Minute
	}
	if o.EventsMaxLen <= 0 {
		o.EventsMaxLen = 1000
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Store implements app.Store on Redis. Conditional transitions run as Lua
// scripts, scores move only through HINCRBY and the change feed is a stream
// read through a consumer group.
type Store struct {
	client *redis.Client
	opts   Options

	mu        sync.Mutex
	reclaimed []redis.XMessage
}

// NewStore creates the consumer group when it does not exist yet.
func NewStore(ctx context.Context, client *redis.Client, opts Options) (*Store, error) {
	s := &Store{client: client, opts: opts.withDefaults()}
	err := client.XGroupCreateMkStream(ctx, s.opts.Stream, s.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return s, nil
}

func statusErr(status string) error {
	switch status {
	case statusOK:
		return nil
	case statusNotFound:
		return domain.ErrRoomNotFound
	case statusExists:
		return domain.ErrRoomExists
	case statusFinished:
		return domain.ErrRoomFinished
	case statusAlreadyStarted:
		return domain.ErrAlreadyStarted
	case statusNotStarted:
		return domain.ErrNotStarted
	case statusStale:
		return domain.ErrStaleTransition
	case statusNoMore:
		return domain.ErrNoMoreQuestions
	case statusFull:
		return domain.ErrRoomFull
	default:
		return fmt.Errorf("unexpected script status %q", status)
	}
}

func (s *Store) CreateRoom(ctx context.Context, room domain.Room) error {
	fields, err := roomFields(room)
	if err != nil {
		return err
	}
	questions, err := json.Marshal(room.Questions)
	if err != nil {
		return err
	}
	args := append([]any{room.ID, flag(room.Public), string(questions)}, fields...)
	status, err := createRoomScript.Run(ctx, s.client,
		[]string{roomKey(room.ID), questionsKey(room.ID), openKey}, args...).Text()
	if err != nil {
		return err
	}
	return statusErr(status)
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (domain.Room, error) {
	h, err := s.client.HGetAll(ctx, roomKey(roomID)).Result()
	if err != nil {
		return domain.Room{}, err
	}
	if len(h) == 0 {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return decodeRoom(roomID, h), nil
}

func (s *Store) GetQuestions(ctx context.Context, roomID string) ([]domain.Question, error) {
	raw, err := s.client.Get(ctx, questionsKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	return questions, nil
}

func (s *Store) StartRoom(ctx context.Context, roomID string, at time.Time) error {
	status, err := startRoomScript.Run(ctx, s.client,
		[]string{roomKey(roomID), openKey}, roomID, millis(at)).Text()
	if err != nil {
		return err
	}
	return statusErr(status)
}

func (s *Store) AdvanceQuestion(ctx context.Context, roomID string, from int, at time.Time) error {
	questions, err := s.GetQuestions(ctx, roomID)
	if err != nil {
		return err
	}
	status, err := advanceScript.Run(ctx, s.client,
		[]string{roomKey(roomID)}, from, len(questions), millis(at)).Text()
	if err != nil {
		return err
	}
	return statusErr(status)
}

func (s *Store) FinishRoom(ctx context.Context, roomID string, at time.Time, emergency bool, reason string) error {
	status, err := finishScript.Run(ctx, s.client,
		[]string{roomKey(roomID), finishedKey, openKey},
		roomID, millis(at), flag(emergency), reason).Text()
	if err != nil {
		return err
	}
	return statusErr(status)
}

func (s *Store) AddPlayer(ctx context.Context, roomID string, player domain.Player) (bool, error) {
	status, err := addPlayerScript.Run(ctx, s.client,
		[]string{roomKey(roomID), playersKey(roomID), playerKey(roomID, player.UserID)},
		player.UserID, player.DisplayName, millis(player.JoinedAt)).Text()
	if err != nil {
		return false, err
	}
	switch status {
	case statusOK:
		return true, nil
	case statusExists:
		return false, nil
	default:
		return false, statusErr(status)
	}
}

func (s *Store) GetPlayer(ctx context.Context, roomID, userID string) (domain.Player, error) {
	h, err := s.client.HGetAll(ctx, playerKey(roomID, userID)).Result()
	if err != nil {
		return domain.Player{}, err
	}
	if len(h) == 0 {
		exists, err := s.client.Exists(ctx, roomKey(roomID)).Result()
		if err != nil {
			return domain.Player{}, err
		}
		if exists == 0 {
			return domain.Player{}, domain.ErrRoomNotFound
		}
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	return decodePlayer(h), nil
}

func (s *Store) ListPlayers(ctx context.Context, roomID string) ([]domain.Player, error) {
	exists, err := s.client.Exists(ctx, roomKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, domain.ErrRoomNotFound
	}
	ids, err := s.client.SMembers(ctx, playersKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	hashes, err := s.hashes(ctx, ids, func(uid string) string { return playerKey(roomID, uid) })
	if err != nil {
		return nil, err
	}
	out := make([]domain.Player, 0, len(hashes))
	for _, h := range hashes {
		out = append(out, decodePlayer(h))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *Store) CountPlayers(ctx context.Context, roomID string) (int, error) {
	pipe := s.client.Pipeline()
	exists := pipe.Exists(ctx, roomKey(roomID))
	card := pipe.SCard(ctx, playersKey(roomID))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	if exists.Val() == 0 {
		return 0, domain.ErrRoomNotFound
	}
	return int(card.Val()), nil
}

func (s *Store) IncrementScore(ctx context.Context, roomID, userID string, points int, correct bool, at time.Time) error {
	status, err := incrementScript.Run(ctx, s.client,
		[]string{playerKey(roomID, userID)}, points, flag(correct), millis(at)).Text()
	if err != nil {
		return err
	}
	if status == statusNotFound {
		return domain.ErrPlayerNotFound
	}
	return statusErr(status)
}

func (s *Store) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	by := &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}
	if limit > 0 {
		by.Count = int64(limit)
	}
	return s.client.ZRangeByScore(ctx, finishedKey, by).Result()
}

// DeleteRooms gathers every key of the chunk first, then removes them in a
// single MULTI/EXEC so a room disappears with all its sub-collections.
func (s *Store) DeleteRooms(ctx context.Context, roomIDs []string) error {
	if len(roomIDs) == 0 {
		return nil
	}
	var keys []string
	members := make([]any, 0, len(roomIDs))
	for _, id := range roomIDs {
		players, err := s.client.SMembers(ctx, playersKey(id)).Result()
		if err != nil {
			return err
		}
		answers, err := s.client.ZRange(ctx, answersKey(id), 0, -1).Result()
		if err != nil {
			return err
		}
		buzzes, err := s.client.ZRange(ctx, buzzesKey(id), 0, -1).Result()
		if err != nil {
			return err
		}
		keys = append(keys,
			roomKey(id), questionsKey(id), playersKey(id), answersKey(id),
			slotsKey(id), buzzesKey(id), eventsKey(id))
		for _, uid := range players {
			keys = append(keys, playerKey(id, uid))
		}
		for _, aid := range answers {
			keys = append(keys, answerKey(id, aid))
		}
		for _, bid := range buzzes {
			keys = append(keys, buzzKey(id, bid))
		}
		members = append(members, id)
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, finishedKey, members...)
		pipe.SRem(ctx, openKey, members...)
		return nil
	})
	return err
}

func (s *Store) ListOpenPublicRooms(ctx context.Context, difficulty string) ([]domain.Room, error) {
	ids, err := s.client.SMembers(ctx, openKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, roomKey(id))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
	}
	var out []domain.Room
	for i, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			continue
		}
		room := decodeRoom(ids[i], h)
		if !room.Public || room.Started || room.Finished {
			continue
		}
		if difficulty != "" && room.Difficulty != difficulty {
			continue
		}
		out = append(out, room)
	}
	return out, nil
}

// hashes loads one hash per id in a single pipeline, skipping missing keys.
func (s *Store) hashes(ctx context.Context, ids []string, key func(string) string) ([]map[string]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	out := make([]map[string]string, 0, len(cmds))
	for _, cmd := range cmds {
		if h := cmd.Val(); len(h) > 0 {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *Store) requireRoom(ctx context.Context, roomID string) error {
	exists, err := s.client.Exists(ctx, roomKey(roomID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}
