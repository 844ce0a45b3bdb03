// Package logx is a thin zerolog wrapper with runtime-swappable sinks.
//
// Components hold a Logger by value; the Service behind it can re-apply
// config (level, console, file, alert forwarding) without anyone having to
// re-fetch their logger.
package logx
