// Package search 提供了与 Elasticsearch 交互的客户端功能，
// 用于会话标题与聊天内容的全文检索。
package search

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"

	"career-chat-go/internal/config"
	"career-chat-go/pkg/events"
	"career-chat-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var ESClient *elasticsearch.Client

// indexName 在 InitES 时从配置读取。
var indexName string

// InitES 初始化 Elasticsearch 客户端
func InitES(esCfg config.ElasticsearchConfig) error {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	indexName = esCfg.IndexName
	return createIndexIfNotExists(indexName)
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func createIndexIfNotExists(indexName string) error {
	res, err := ESClient.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	defer res.Body.Close()
	// 如果 res.StatusCode 是 200，说明索引已存在
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	// 如果 res.StatusCode 是 404，说明索引不存在，需要创建
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	// 每轮问答一条文档，按 session_id 折叠后即可得到命中的会话
	mapping := `{
		"mappings": {
			"properties": {
				"session_id": { "type": "keyword" },
				"session_title": { "type": "text" },
				"user_id": { "type": "long" },
				"question": { "type": "text" },
				"answer": { "type": "text" },
				"completed_at": { "type": "date" }
			}
		}
	}`

	createRes, err := ESClient.Indices.Create(indexName, ESClient.Indices.Create.WithBody(bytes.NewReader([]byte(mapping))))
	if err != nil {
		return err
	}
	defer createRes.Body.Close()
	if createRes.IsError() {
		return fmt.Errorf("创建索引 '%s' 失败: %s", indexName, createRes.String())
	}
	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// IndexExchange 将一轮完成的问答写入索引。
func IndexExchange(ctx context.Context, event events.ExchangeCompletedEvent) error {
	doc, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal exchange doc: %w", err)
	}

	req := esapi.IndexRequest{
		Index: indexName,
		Body:  bytes.NewReader(doc),
	}
	res, err := req.Do(ctx, ESClient)
	if err != nil {
		return fmt.Errorf("failed to index exchange: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index exchange returned error: %s", res.String())
	}
	return nil
}

// SearchSessionIDs 在标题与问答全文上检索，返回按相关时间倒序折叠后的会话 ID 列表。
// size 是返回会话 ID 的上限。
func SearchSessionIDs(ctx context.Context, userID uint, query string, size int) ([]string, error) {
	body := map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []map[string]interface{}{
					{"term": map[string]interface{}{"user_id": userID}},
				},
				"must": []map[string]interface{}{
					{"multi_match": map[string]interface{}{
						"query":  query,
						"fields": []string{"session_title^2", "question", "answer"},
					}},
				},
			},
		},
		"collapse": map[string]interface{}{"field": "session_id"},
		"sort":     []map[string]interface{}{{"completed_at": map[string]interface{}{"order": "desc"}}},
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	res, err := ESClient.Search(
		ESClient.Search.WithContext(ctx),
		ESClient.Search.WithIndex(indexName),
		ESClient.Search.WithBody(bytes.NewReader(bodyBytes)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search sessions: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search sessions returned error: %s", res.String())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source struct {
					SessionID string `json:"session_id"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	ids := make([]string, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		ids = append(ids, h.Source.SessionID)
	}
	return ids, nil
}
