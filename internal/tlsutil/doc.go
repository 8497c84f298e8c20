// Package tlsutil 为推理端点的 HTTP 客户端与 Redis 连接提供安全加固的 TLS 设置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
