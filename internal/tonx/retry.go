// Package tonx holds small helpers shared by the tonapi-backed components.
package tonx

import (
	"errors"
	"time"

	"github.com/tonkeeper/tonapi-go"
)

type Func[T any] func() (T, error)

// InfinityRateLimitRetry repeats fn until tonapi stops throttling it with
// 429 responses. Any other error is returned as-is.
func InfinityRateLimitRetry[T any](
	fn Func[T],
) (T, error) {
	for {
		result, err := fn()
		if err != nil {
			var e *tonapi.ErrorStatusCode
			if errors.As(errors.Unwrap(err), &e) && e.StatusCode == 429 {
				time.Sleep(500 * time.Millisecond)
				continue
			}
		}

		return result, err
	}
}
