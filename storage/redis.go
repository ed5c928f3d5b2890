package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"estate_admin/identity"
	"estate_admin/models"
)

const pagePrefix = "catalog:page:"

// RedisPageStore shares the catalog page cache between several admin
// processes. Entries expire after ttl.
type RedisPageStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPageStore(ctx context.Context, addr, password string, ttl time.Duration) (*RedisPageStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisPageStore{client: client, ttl: ttl}, nil
}

func (r *RedisPageStore) Close() error {
	return r.client.Close()
}

func pageKey(key string) string {
	return pagePrefix + identity.Fingerprint(key)
}

func (r *RedisPageStore) LoadPage(ctx context.Context, key string) (*models.CatalogPage, error) {
	data, err := r.client.Get(ctx, pageKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var page models.CatalogPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (r *RedisPageStore) SavePage(ctx context.Context, key string, page *models.CatalogPage) error {
	data, err := json.Marshal(page)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, pageKey(key), data, r.ttl).Err()
}

// DeletePages drops every cached page. SCAN keeps the server responsive on
// large keyspaces.
func (r *RedisPageStore) DeletePages(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, pagePrefix+"*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return r.client.Del(ctx, batch...).Err()
	}
	return nil
}
