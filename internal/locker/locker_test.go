//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

package locker_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"trpc.group/trpc-go/tpoll/internal/locker"
)

func TestLocker(t *testing.T) {
	l := locker.New()
	assert.True(t, l.TryLock())
	assert.False(t, l.TryLock())
	l.Unlock()
	assert.True(t, l.TryLock())
	l.Unlock()
}

// HammerLocker exercises a shared counter under l from many goroutines: if
// Lock fails to exclude, the final count will fall short of loops*callers.
func HammerLocker(t *testing.T, l *locker.Locker, counter *int, loops int, cdone chan bool) {
	for i := 0; i < loops; i++ {
		l.Lock()
		*counter++
		l.Unlock()
	}
	cdone <- true
}

func TestConcurrentLocker(t *testing.T) {
	l := locker.New()
	const callers, loops = 10, 1000
	counter := 0
	c := make(chan bool)
	for i := 0; i < callers; i++ {
		go HammerLocker(t, l, &counter, loops, c)
	}
	for i := 0; i < callers; i++ {
		<-c
	}
	assert.Equal(t, callers*loops, counter)
}
