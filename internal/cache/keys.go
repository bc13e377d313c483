package cache

import (
	"strconv"
	"time"

	"github.com/amankumarsingh77/crawlindex/internal/common"
)

const (
	URLTTL     = 24 * time.Hour
	ContentTTL = 24 * time.Hour
	HotTTL     = time.Hour
	MetaTTL    = 24 * time.Hour
	SearchTTL  = 5 * time.Minute
)

func URLKey(urlHash uint64) string {
	return "dedup:url:" + strconv.FormatUint(urlHash, 10)
}

func ContentKey(contentHash uint64) string {
	return "dedup:content:" + strconv.FormatUint(contentHash, 10)
}

func HotKey(urlHash uint64) string {
	return "hot:url:" + strconv.FormatUint(urlHash, 10)
}

func MetaKey(urlHash uint64) string {
	return "crawl:meta:" + strconv.FormatUint(urlHash, 10)
}

func SearchKey(query string, topK int) string {
	return "search:" + strconv.FormatUint(common.HashString(query+"\x00"+strconv.Itoa(topK)), 10)
}
