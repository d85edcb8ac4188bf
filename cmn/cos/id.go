package cos

import (
	"sync"

	"github.com/teris-io/shortid"
)

// id generation for the `add_id` option: when the shard key includes `_id`
// and an incoming document lacks one, the batcher synthesizes one, driving
// a shortid generator off a worker index and a run seed.
const idABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var (
	sidOnce sync.Once
	sid     *shortid.Shortid
)

// InitIDGen seeds the generator once per process; batcher workers share it
// behind shortid's own internal locking.
func InitIDGen(seed uint64) {
	sidOnce.Do(func() {
		sid = shortid.MustNew(4 /*worker*/, idABC, seed)
	})
}

// GenObjectID returns a short, URL-safe, globally-unique-enough id for
// synthesizing `_id` on documents that lack one.
func GenObjectID() string {
	if sid == nil {
		InitIDGen(0)
	}
	return sid.MustGenerate()
}
