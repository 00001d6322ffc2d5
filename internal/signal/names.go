package signal

// Name identifies a signal kind (spec.md §6 "Signal names").
type Name string

// Payload is a signal's event data, keyed the way spec.md documents each
// signal's payload (e.g. request_scheduled carries "request").
type Payload map[string]any

const (
	SpiderOpened             Name = "spider_opened"
	SpiderClosed             Name = "spider_closed"
	SpiderIdle               Name = "spider_idle"
	SpiderError              Name = "spider_error"
	RequestScheduled         Name = "request_scheduled"
	RequestDropped           Name = "request_dropped"
	RequestReachedDownloader Name = "request_reached_downloader"
	RequestFailed            Name = "request_failed"
	ResponseReceived         Name = "response_received"
	ItemScraped              Name = "item_scraped"
	ItemDropped              Name = "item_dropped"
	ItemError                Name = "item_error"
	BytesReceived            Name = "bytes_received"
	HeadersReceived          Name = "headers_received"
)
