// Package remote implements the registry client.
//
// # Overview
//
// Client speaks the registry REST API and translates expected remote
// conditions (not found, forbidden) into api.ErrAssetUnavailable so the
// import core degrades instead of aborting. CachedRepository layers an
// expiring LRU over metadata lookups; it is purged wholesale when the
// registry rejects our credentials.
package remote
