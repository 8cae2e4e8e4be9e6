package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AttemptAnswersKey returns the hash key holding autosaved answers of an attempt.
func (r *CacheKeyStruct) AttemptAnswersKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:answers", attemptID)
}

// StartRateKey returns the counter key limiting attempt starts for a student.
func (r *CacheKeyStruct) StartRateKey(studentID int) string {
	return fmt.Sprintf("student:%d:start_rate", studentID)
}

// ApplicationMonitorChannel returns the Redis PubSub channel for an application's live events.
func (r *CacheKeyStruct) ApplicationMonitorChannel(applicationID int) string {
	return fmt.Sprintf("application:%d:monitor", applicationID)
}

var CacheKey = NewCacheKeyStruct()
