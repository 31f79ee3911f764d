package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供路由类别/分区/版本/命中状态字段，供请求日志复用。
func RequestFields(class, partition, version string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"route_class":    class,
		"partition":      partition,
		"worker_version": version,
		"cache_hit":      cacheHit,
	}
}

// LifecycleFields 用于 install/activate/message 等生命周期事件。
func LifecycleFields(action, version string) logrus.Fields {
	return logrus.Fields{
		"action":         action,
		"worker_version": version,
	}
}
