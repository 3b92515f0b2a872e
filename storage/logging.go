package storage

import "go.uber.org/zap"

// Small zap.Field helpers so every log site across the engine names
// these values the same way.

func zapUser(user UserIdentifier) zap.Field {
	return zap.String("fxa_uid", user.FxAUID)
}

func zapCollection(coll CollectionID) zap.Field {
	return zap.Int32("collection_id", int32(coll))
}

func zapInt64(key string, v int64) zap.Field {
	return zap.Int64(key, v)
}
