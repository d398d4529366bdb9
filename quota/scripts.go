package quota

import (
	_ "embed"

	"github.com/redis/go-redis/v9"
)

//go:embed scripts/admit.lua
var admitSource string

//go:embed scripts/commit.lua
var commitSource string

//go:embed scripts/release.lua
var releaseSource string

var (
	admitScript   = redis.NewScript(admitSource)
	commitScript  = redis.NewScript(commitSource)
	releaseScript = redis.NewScript(releaseSource)
)
