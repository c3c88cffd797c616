package layer

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"strconv"
	"time"

	"github.com/hymnal/refcache"
	"github.com/mediocregopher/radix/v3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Configuration for the redis data layer
type RedisConfig struct {
	// The duration of the cached lists, set 0 to disable expiration
	Retention time.Duration

	// Connection to redis, usually a *radix.Pool
	Client radix.Client

	// Key prefix to be used in redis keys
	KeyPrefix string
}

// Redis layer is a redis-backed cache shared between processes, lists are gob encoded
type Redis[TKey comparable, TValue any] struct {
	config RedisConfig
}

// the gob envelope of a list, an empty list is stored as an envelope without values
type redisEntry[TValue any] struct {
	Values []TValue
}

// Create a new redis data layer
func NewRedis[TKey comparable, TValue any](config RedisConfig) (*Redis[TKey, TValue], error) {
	if config.Client == nil {
		return nil, errors.New("redis layer: no client configured")
	}
	if config.Retention < 0 {
		return nil, errors.Errorf("redis layer: negative retention %v", config.Retention)
	}
	return &Redis[TKey, TValue]{config: config}, nil
}

// Unique identifier for this layer used for logging and metric purposes
func (l *Redis[TKey, TValue]) Identifier() string { return "redis" }

// The function that will be used to load the lists of a set of keys
func (l *Redis[TKey, TValue]) Get(keys []TKey) ([][]TValue, []error) {
	keysCount := len(keys)
	result := make([][]TValue, keysCount)
	errs := make([]error, keysCount)
	if keysCount == 0 {
		return result, errs
	}

	cacheBuffer := make([][]byte, keysCount)
	if err := l.config.Client.Do(radix.Cmd(&cacheBuffer, "MGET", stringifyKeys(keys, l.config.KeyPrefix)...)); err != nil {
		fillArray(errs, errors.Wrap(err, "redis MGET"))
		return result, errs
	}

	for i, key := range keys {
		if cacheBuffer[i] == nil {
			errs[i] = refcache.NewErrNotFound(key)
			continue
		}
		var entry redisEntry[TValue]
		if err := gob.NewDecoder(bytes.NewBuffer(cacheBuffer[i])).Decode(&entry); err != nil {
			errs[i] = errors.Wrapf(err, "decoding %v", key)
			continue
		}
		if entry.Values == nil {
			entry.Values = []TValue{}
		}
		result[i] = entry.Values
	}
	return result, errs
}

// The function that will be called with the lists resolved by the collector
func (l *Redis[TKey, TValue]) Set(keys []TKey, values [][]TValue) []error {
	count := len(keys)
	errs := make([]error, count)
	if count == 0 {
		return errs
	}

	// prepare one MSET for every key that encodes
	keysString := stringifyKeys(keys, l.config.KeyPrefix)
	msetArguments := make([]string, 0, 2*count)
	encodedKeys := make([]string, 0, count)
	for i, value := range values {
		b := bytes.Buffer{}
		if err := gob.NewEncoder(&b).Encode(redisEntry[TValue]{Values: value}); err != nil {
			log.Err(err).Str("key", keysString[i]).Msg("redis layer: encode failed")
			errs[i] = errors.Wrapf(err, "encoding %v", keys[i])
			continue
		}
		msetArguments = append(msetArguments, keysString[i], b.String())
		encodedKeys = append(encodedKeys, keysString[i])
	}
	if len(encodedKeys) == 0 {
		return errs
	}

	commands := []radix.CmdAction{radix.Cmd(nil, "MSET", msetArguments...)}

	// prepare PEXPIRE commands
	if l.config.Retention > 0 {
		retention := strconv.FormatInt(l.config.Retention.Milliseconds(), 10)
		for _, key := range encodedKeys {
			commands = append(commands, radix.Cmd(nil, "PEXPIRE", key, retention))
		}
	}

	if err := l.config.Client.Do(radix.Pipeline(commands...)); err != nil {
		log.Err(err).Int("keys", len(encodedKeys)).Msg("redis layer: pipeline failed")
		for i := range errs {
			if errs[i] == nil {
				errs[i] = errors.Wrap(err, "redis MSET")
			}
		}
	}
	return errs
}

func stringifyKeys[TKey comparable](keys []TKey, prefix string) []string {
	return mapFn(keys, func(input TKey) string {
		return fmt.Sprintf("%s%v", prefix, input)
	})
}

func mapFn[T1 any, T2 any](arr []T1, fn func(input T1) T2) []T2 {
	newArr := make([]T2, len(arr))
	for i, v := range arr {
		newArr[i] = fn(v)
	}
	return newArr
}

func fillArray[T any](arr []T, value T) []T {
	for i := range arr {
		arr[i] = value
	}
	return arr
}
