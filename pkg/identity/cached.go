package identity

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cached is a read-through Redis cache in front of a Platform. Only positive
// answers are cached; cache failures fall through to the platform.
type Cached struct {
	next Platform
	rdb  redis.Cmdable
	ttl  time.Duration
	log  *zap.SugaredLogger
}

func NewCached(next Platform, rdb redis.Cmdable, ttl time.Duration, log *zap.SugaredLogger) *Cached {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Cached{next: next, rdb: rdb, ttl: ttl, log: log}
}

func (c *Cached) GetUserByID(ctx context.Context, id string) (User, error) {
	return c.through(ctx, "ids:identity:id:"+id, func() (User, error) { return c.next.GetUserByID(ctx, id) })
}

func (c *Cached) GetUserByEmail(ctx context.Context, email string) (User, error) {
	key := "ids:identity:email:" + strings.ToLower(email)
	return c.through(ctx, key, func() (User, error) { return c.next.GetUserByEmail(ctx, email) })
}

func (c *Cached) through(ctx context.Context, key string, load func() (User, error)) (User, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var u User
		if jerr := json.Unmarshal(raw, &u); jerr == nil {
			return u, nil
		}
	case !errors.Is(err, redis.Nil):
		c.log.Warnw("identity cache read failed", "err", err)
	}

	u, err := load()
	if err != nil {
		return User{}, err
	}
	if b, jerr := json.Marshal(u); jerr == nil {
		if serr := c.rdb.Set(ctx, key, b, c.ttl).Err(); serr != nil {
			c.log.Warnw("identity cache write failed", "err", serr)
		}
	}
	return u, nil
}
