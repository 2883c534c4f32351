package marketplace

import (
	"context"
	"fmt"
)

const (
	report_client_affiliate_link = "client.affiliate-link"
)

type affiliateLinkResponse struct {
	Response struct {
		RespResult struct {
			RespCode looseString `json:"resp_code"`
			RespMsg  string      `json:"resp_msg"`
			Result   struct {
				PromotionLinks struct {
					Items []struct {
						PromotionLink string `json:"promotion_link"`
						SourceValue   string `json:"source_value"`
					} `json:"promotion_link"`
				} `json:"promotion_links"`
			} `json:"result"`
		} `json:"resp_result"`
	} `json:"aliexpress_affiliate_link_generate_response"`
}

// AffiliateLink converts a product url into a tracked promotion link.
func (c *Client) AffiliateLink(ctx context.Context, sourceUrl, trackingId string) (string, error) {
	c.tel.ReportDebug(report_client_affiliate_link, sourceUrl)

	res, err := Request[affiliateLinkResponse](ctx, c, ApiRequest{
		Method:  "aliexpress.affiliate.link.generate",
		Version: "2.0",
		Params: map[string]string{
			"promotion_link_type": "0",
			"source_values":       sourceUrl,
			"tracking_id":         trackingId,
		},
	})
	if err != nil {
		return "", err
	}

	result := res.Response.RespResult
	code := string(result.RespCode)
	if code != "" && code != "200" {
		err := fmt.Errorf("affiliate link: resp_code %s: %s", code, result.RespMsg)
		c.tel.ReportWarning(report_client_affiliate_link, err)
		return "", err
	}
	for _, link := range result.Result.PromotionLinks.Items {
		if link.PromotionLink != "" {
			return link.PromotionLink, nil
		}
	}

	err = fmt.Errorf("affiliate link: no promotion link returned for %s", sourceUrl)
	c.tel.ReportWarning(report_client_affiliate_link, err)
	return "", err
}
