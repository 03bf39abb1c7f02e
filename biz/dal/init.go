package dal

import (
	"kes-wallet/biz/dal/kafka"
	"kes-wallet/biz/dal/pg"
	"kes-wallet/biz/dal/redis"
	"kes-wallet/conf"
)

func Init() {
	pg.Init()
	if conf.GetConf().Engine.RateLimit.Backend == "redis" {
		redis.Init()
	}
	kafka.Init()
}

func Close() {
	kafka.CloseAllWriters()
	redis.Close()
	pg.Close()
}
