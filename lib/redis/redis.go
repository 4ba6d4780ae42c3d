package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Two logical connections, same convention as the source database split:
// Index holds the coupon projections (hash/set/zset keys), PubSub carries the
// event broadcast channel. Keeping them apart lets FLUSHDB-style maintenance
// on the index never touch subscriber state.
var (
	Index  *redis.Client
	PubSub *redis.Client
)

type Options struct {
	Addr     string
	Password string
	IndexDB  int
	PubSubDB int
}

func Setup(opts Options) error {
	Index = redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.IndexDB,
	})
	PubSub = redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.PubSubDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Index.Ping(ctx).Err(); err != nil {
		return err
	}

	logrus.Info("Connected to Redis")
	return nil
}

func Close() {
	if Index != nil {
		_ = Index.Close()
	}
	if PubSub != nil {
		_ = PubSub.Close()
	}
}
