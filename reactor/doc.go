// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides readiness multiplexing over raw descriptors:
// epoll on Linux, poll(2) on other Unix systems.
package reactor
