// Package gamecode runs per-chat game code rounds: members join an open pool,
// a moderator draws a random subset, and each drawn member is messaged
// privately.
//
// All pool state lives in memory for the life of the process. Each guild
// (group chat) has its own pool, exclusion set and last selection, guarded by
// its own lock, so guilds never contend with each other.
package gamecode
