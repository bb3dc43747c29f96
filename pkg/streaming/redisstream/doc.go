/*
Package redisstream connects streams to Redis Streams.

NewSource reads entries with XREAD, starting after Config.StartID, and
NewSink appends each chunk with XADD. Both take any redis.UniversalClient,
so cluster and failover clients work too.

# Configuration

Config fields are nullable so that layers can be merged. GetConsolidatedConfig
applies, in order, the defaults, a JSON document and the environment:

	WEBSTREAMS_REDIS_ADDR             server address (localhost:6379)
	WEBSTREAMS_REDIS_PASSWORD         password
	WEBSTREAMS_REDIS_DB               database number (0)
	WEBSTREAMS_REDIS_KEY              stream key, required
	WEBSTREAMS_REDIS_START_ID         read after this ID ($)
	WEBSTREAMS_REDIS_COUNT            entries per XREAD (10)
	WEBSTREAMS_REDIS_BLOCK            XREAD block duration (1s)
	WEBSTREAMS_REDIS_MAX_LEN          approximate trim length on XADD (0, no trim)
	WEBSTREAMS_REDIS_HIGH_WATER_MARK  stream queue size in entries (100)

# Usage

	config, err := redisstream.GetConsolidatedConfig(nil, env)
	if err != nil {
		return err
	}
	client := redisstream.NewClient(config)
	defer client.Close()

	src, err := redisstream.NewSource(client, config, stream.DefaultConfig())
	if err != nil {
		return err
	}
	err = stream.ForEach(ctx, src, func(e redisstream.Entry) {
		log.Printf("%s %v", e.ID, e.Values)
	})

A failing Redis command errors the stream with the command error.
*/
package redisstream
