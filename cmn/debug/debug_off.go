//go:build !debug

package debug

import "sync"

func Func(_ func())                         {}
func Errorf(_ string, _ ...interface{})     {}
func Assert(_ bool, _ ...interface{})       {}
func AssertMsg(_ bool, _ string)            {}
func AssertNoErr(_ error)                   {}
func Assertf(_ bool, _ string, _ ...interface{}) {}
func AssertMutexLocked(_ *sync.Mutex)       {}
func AssertRWMutexLocked(_ *sync.RWMutex)   {}
