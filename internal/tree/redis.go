package tree

import (
	"context"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"
)

// Redis keeps leaf values in string keys and each branch's child names in a set.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis stores keys under prefix (default "tree").
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "tree"
	}
	return &Redis{client: client, prefix: prefix}
}

func (t *Redis) valueKey(p Path) string    { return t.prefix + ":v:" + p.String() }
func (t *Redis) childrenKey(p Path) string { return t.prefix + ":c:" + p.String() }

// Set replaces the subtree at path with a single leaf.
func (t *Redis) Set(ctx context.Context, path Path, value string) error {
	if err := path.Validate(); err != nil {
		return err
	}
	stale, err := t.subtreeKeys(ctx, path)
	if err != nil {
		return wrap("redis", "set", path, err)
	}

	_, err = t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(stale) > 0 {
			pipe.Del(ctx, stale...)
		}
		for i := 0; i < len(path); i++ {
			parent := path[:i]
			if i > 0 {
				pipe.Del(ctx, t.valueKey(parent))
			}
			pipe.SAdd(ctx, t.childrenKey(parent), path[i])
		}
		pipe.Set(ctx, t.valueKey(path), value, 0)
		return nil
	})
	return wrap("redis", "set", path, err)
}

// subtreeKeys lists every key below and including path.
func (t *Redis) subtreeKeys(ctx context.Context, path Path) ([]string, error) {
	keys := []string{t.valueKey(path), t.childrenKey(path)}
	children, err := t.client.SMembers(ctx, t.childrenKey(path)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	for _, c := range children {
		sub, err := t.subtreeKeys(ctx, path.Child(c))
		if err != nil {
			return nil, err
		}
		keys = append(keys, sub...)
	}
	return keys, nil
}

// Get returns the subtree at path.
func (t *Redis) Get(ctx context.Context, path Path) (*Node, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	n, err := t.get(ctx, path)
	return n, wrap("redis", "get", path, err)
}

func (t *Redis) get(ctx context.Context, path Path) (*Node, error) {
	key := path[len(path)-1]
	v, err := t.client.Get(ctx, t.valueKey(path)).Result()
	if err == nil {
		return &Node{Key: key, Value: v}, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, err
	}

	children, err := t.client.SMembers(ctx, t.childrenKey(path)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(children) == 0 {
		return nil, nil
	}
	sort.Strings(children)
	n := &Node{Key: key}
	for _, c := range children {
		child, err := t.get(ctx, path.Child(c))
		if err != nil {
			return nil, err
		}
		if child != nil {
			n.Children = append(n.Children, child)
		}
	}
	if len(n.Children) == 0 {
		return nil, nil
	}
	return n, nil
}

// Ping checks redis connectivity.
func (t *Redis) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}
