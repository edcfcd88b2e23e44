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

package selector_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"trpc.group/trpc-go/tpoll/internal/selector"
)

func TestInterests(t *testing.T) {
	i := selector.Readable
	assert.True(t, i.IsReadable())
	assert.False(t, i.IsWritable())
	assert.False(t, i.Empty())

	i |= selector.Writable
	assert.True(t, i.IsReadable())
	assert.True(t, i.IsWritable())
	assert.Equal(t, "Readable|Writable", i.String())

	var empty selector.Interests
	assert.True(t, empty.Empty())
	assert.Equal(t, "None", empty.String())
}

func TestReadiness(t *testing.T) {
	r := selector.ReadinessReadable | selector.ReadinessHup
	assert.True(t, r.Contains(selector.ReadinessReadable))
	assert.True(t, r.Contains(selector.ReadinessHup))
	assert.False(t, r.Contains(selector.ReadinessWritable))
	assert.False(t, r.Contains(selector.ReadinessReadable|selector.ReadinessWritable))
	assert.False(t, r.IsEmpty())
	assert.Equal(t, "Readable|Hup", r.String())

	var empty selector.Readiness
	assert.True(t, empty.IsEmpty())
	assert.Equal(t, "None", empty.String())
}

func TestPollOpt(t *testing.T) {
	edge := selector.Edge()
	assert.True(t, edge.IsEdge())
	assert.False(t, edge.IsLevel())
	assert.False(t, edge.IsOneshot())
	assert.True(t, edge.Valid())

	level := selector.Level()
	assert.True(t, level.IsLevel())
	assert.True(t, level.Valid())

	oneshot := selector.Oneshot(edge)
	assert.True(t, oneshot.IsEdge())
	assert.True(t, oneshot.IsOneshot())
	assert.Equal(t, "Edge|Oneshot", oneshot.String())

	// Neither or both of Edge/Level set is invalid.
	assert.False(t, selector.PollOpt(0).Valid())
	assert.False(t, (selector.Edge() | selector.Level()).Valid())
}

func TestEvents(t *testing.T) {
	events := selector.NewEvents(2)
	assert.Equal(t, 2, events.Cap())
	assert.Equal(t, 0, events.Len())
	assert.Equal(t, 2, events.Remaining())
}
