/*
包 cache 为推理调用提供多级响应缓存：本地过期 LRU 作为 L1，Redis 作为 L2。

温度为 0 的判分请求是确定性的，同一截图、同一关键点的重复评测可直接复用
上一次的模型输出，降低延迟与成本。

# 核心接口

  - PromptCache：Get/Set/Delete/GenerateKey。
  - KeyStrategy：缓存键生成策略，默认 HashKeyStrategy（请求 JSON 的 sha256）。
  - MultiLevelCache：L1 使用 hashicorp/golang-lru/v2/expirable，L2 使用 go-redis，命中 L2 时回填 L1。

Redis 故障只记录日志并视为未命中，不影响评测。

# 使用方式

	mlc := cache.NewMultiLevelCache(redisClient, cache.DefaultCacheConfig(), logger)
	key := mlc.GenerateKey(chatReq)
	entry, err := mlc.Get(ctx, key)
*/
package cache
