/*
Package quotacache is a client-side cache for a remote token-bucket rate
limiting service. Callers spend quota for a (user, operation) or
(user, path+method) pair; the cache serves requests from locally held pools
of pre-fetched tokens and only calls the remote consume RPC when the local
pool is empty or unknown.

A burst of concurrent callers for the same fresh key triggers exactly one
remote fetch; the remaining callers share the refilled bucket.

Example:

	import (
		"context"
		"github.com/parkerroan/quotacache"
	)

	client, err := quotacache.NewHTTPClient("https://quota.example.com", apiKey)
	if err != nil {
		log.Fatal(err)
	}

	qc := quotacache.New(client,
		quotacache.WithDefaultBucketSize(25),
	)

	result, err := qc.ConsumeLocalBucketToken(context.Background(), quotacache.ConsumeRequest{
		UserID:    "user-123",
		Operation: "send_email",
	})

Buckets are keyed by the server-assigned rule id, matched to requests with
the rule's own pattern, and expire after a minute without access. Transport
and API failures on the cached path come back as a failed result rather than
an error; the direct Consume entry point propagates them instead.
*/
package quotacache
