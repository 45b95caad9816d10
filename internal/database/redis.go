package database

import (
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/pkg/errors"
)

type redisDb struct {
	client *redis.Client
}

func NewRedis(options *redis.Options) (Database, error) {
	client := redis.NewClient(options)

	if _, err := client.Ping().Result(); err != nil {
		return nil, err
	}

	return &redisDb{client: client}, nil
}

func (r *redisDb) Get(key string) (data string, err error) {
	data, err = r.client.Get(key).Result()

	if err == redis.Nil {
		return "", errors.Wrapf(ErrNotFound, "'%s'", key)
	}

	return data, err
}

func (r *redisDb) Set(key string, data string, expiration time.Duration) (err error) {
	return r.client.Set(key, data, expiration).Err()
}

func (r *redisDb) Delete(key string) (err error) {
	return r.client.Del(key).Err()
}

func (r *redisDb) Close() error {
	return r.client.Close()
}
